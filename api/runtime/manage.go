package runtime

import (
	"context"
	"fmt"
	"time"

	"nodeship/api/topology"
)

// ManageEntrypoint invokes the backend's management CLI.
var ManageEntrypoint = []string{"python", "-m", "thenewboston_node.manage"}

// Manage runs a management command (migrate, createsuperuser, blockchain
// generation) in the image of service, on the topology network, with the
// service's environment and volumes. An empty image uses the declared one.
func Manage(ctx context.Context, r Runner, topo *topology.Topology, service, image string, args []string, timeout time.Duration) (*RunResult, error) {
	svc, ok := topo.Service(service)
	if !ok {
		return nil, fmt.Errorf("%q: %w", service, topology.ErrUnknownService)
	}
	if image == "" {
		image = svc.Image
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("no management command given")
	}

	mounts := make([]string, 0, len(svc.Mounts))
	for _, m := range svc.Mounts {
		spec := topo.VolumeName(m.Volume) + ":" + m.Path
		if m.ReadOnly {
			spec += ":ro"
		}
		mounts = append(mounts, spec)
	}

	return r.Run(ctx, RunOpts{
		Image:   image,
		Command: append(append([]string(nil), ManageEntrypoint...), args...),
		Env:     svc.Env,
		Mounts:  mounts,
		Network: topo.Network,
		Timeout: timeout,
		Memory:  "1g",
		Name:    topo.Project + "-manage",
	})
}
