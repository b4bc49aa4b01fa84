package topology

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strconv"

	"github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"
)

// DockerRuntime drives the Docker Engine API.
type DockerRuntime struct {
	client *client.Client
}

// NewDockerRuntime connects using the environment (DOCKER_HOST and friends).
func NewDockerRuntime() (*DockerRuntime, error) {
	c, err := client.New(client.FromEnv)
	if err != nil {
		return nil, err
	}
	return &DockerRuntime{client: c}, nil
}

func (d *DockerRuntime) EnsureNetwork(ctx context.Context, name string, labels map[string]string) error {
	if _, err := d.client.NetworkInspect(ctx, name, client.NetworkInspectOptions{}); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect network %q: %w", name, err)
	}
	_, err := d.client.NetworkCreate(ctx, name, client.NetworkCreateOptions{Labels: labels})
	if err != nil {
		// created concurrently
		if _, ie := d.client.NetworkInspect(ctx, name, client.NetworkInspectOptions{}); ie == nil {
			return nil
		}
		return fmt.Errorf("create network %q: %w", name, err)
	}
	return nil
}

func (d *DockerRuntime) EnsureVolume(ctx context.Context, name string, labels map[string]string) error {
	_, err := d.client.VolumeInspect(ctx, name, client.VolumeInspectOptions{})
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect volume %q: %w", name, err)
	}
	_, err = d.client.VolumeCreate(ctx, client.VolumeCreateOptions{Name: name, Labels: labels})
	if err != nil {
		if _, ie := d.client.VolumeInspect(ctx, name, client.VolumeInspectOptions{}); ie == nil {
			return nil
		}
		return fmt.Errorf("create volume %q: %w", name, err)
	}
	return nil
}

func (d *DockerRuntime) RemoveVolume(ctx context.Context, name string) error {
	_, err := d.client.VolumeRemove(ctx, name, client.VolumeRemoveOptions{})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove volume %q: %w", name, err)
	}
	return nil
}

// StartService replaces any existing container for svc and starts a new one.
func (d *DockerRuntime) StartService(ctx context.Context, t *Topology, svc Service) error {
	name := t.ContainerName(svc.Name)

	if _, err := d.client.ContainerInspect(ctx, name, client.ContainerInspectOptions{}); err == nil {
		_, _ = d.client.ContainerStop(ctx, name, client.ContainerStopOptions{})
		if _, err := d.client.ContainerRemove(ctx, name, client.ContainerRemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("remove existing container %q: %w", name, err)
		}
	}

	mounts := make([]mount.Mount, 0, len(svc.Mounts))
	for _, m := range svc.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeVolume,
			Source:   t.VolumeName(m.Volume),
			Target:   m.Path,
			ReadOnly: m.ReadOnly,
		})
	}

	exposed := network.PortSet{}
	portMap := network.PortMap{}
	for _, p := range svc.Ports {
		port, _ := network.PortFrom(uint16(p.Container), network.IPProtocol("tcp"))
		exposed[port] = struct{}{}
		if p.Host == 0 {
			continue
		}
		hostIP := p.HostIP
		if hostIP == "" {
			hostIP = "0.0.0.0"
		}
		addr, err := netip.ParseAddr(hostIP)
		if err != nil {
			return fmt.Errorf("service %q has invalid host ip %q: %w", svc.Name, hostIP, err)
		}
		portMap[port] = append(portMap[port], network.PortBinding{HostIP: addr, HostPort: strconv.Itoa(p.Host)})
	}

	env := make([]string, 0, len(svc.Env))
	for k, v := range svc.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	aliases := append([]string{svc.Name}, svc.Aliases...)
	created, err := d.client.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config: &container.Config{
			Image:        svc.Image,
			Env:          env,
			Cmd:          svc.Command,
			ExposedPorts: exposed,
			Labels: map[string]string{
				"nodeship.project": t.Project,
				"nodeship.service": svc.Name,
			},
		},
		HostConfig: &container.HostConfig{
			Mounts:        mounts,
			PortBindings:  portMap,
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyAlways},
		},
		NetworkingConfig: &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				t.Network: {Aliases: aliases},
			},
		},
		Name:  name,
		Image: svc.Image,
	})
	if err != nil {
		return fmt.Errorf("create container %q: %w", name, err)
	}

	if _, err := d.client.ContainerStart(ctx, created.ID, client.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("start container %q: %w", name, err)
	}
	return nil
}

func (d *DockerRuntime) StopService(ctx context.Context, t *Topology, svc Service) error {
	name := t.ContainerName(svc.Name)
	_, _ = d.client.ContainerStop(ctx, name, client.ContainerStopOptions{})
	_, err := d.client.ContainerRemove(ctx, name, client.ContainerRemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove container %q: %w", name, err)
	}
	return nil
}
