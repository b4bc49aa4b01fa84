package validate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"nodeship/api/model"
	"nodeship/api/proxy"
	"nodeship/api/secrets"
	"nodeship/api/topology"
	"nodeship/api/verify"
)

// ProxyService is the topology service that serves the routing config.
const ProxyService = "reverse-proxy"

type Validator struct {
	Secrets  secrets.Store
	Required []string // secret keys that must resolve
	Target   model.DeployTarget
}

// Validate checks the topology, the routing table, and how they fit together.
func (v *Validator) Validate(ctx context.Context, topo *topology.Topology, routing proxy.Config) *model.ValidationResult {
	result := &model.ValidationResult{App: topo.Project}
	checkTopology(topo, result)
	checkRouting(routing, result)
	checkWiring(topo, routing, result)
	v.checkSecrets(ctx, result)
	v.checkTarget(result)
	return result
}

// Check runs Validate and turns error findings into one error.
func (v *Validator) Check(ctx context.Context, topo *topology.Topology, routing proxy.Config) error {
	r := v.Validate(ctx, topo, routing)
	if r.Valid() {
		return nil
	}
	var msgs []string
	for _, f := range r.Findings {
		if f.Severity == model.SeverityError {
			msgs = append(msgs, fmt.Sprintf("%s: %s", f.Check, f.Message))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// StaticCheck runs the validator inside the verify stage. load is called
// with the workspace so a checked-in topology file can be read from it.
func (v *Validator) StaticCheck(load func(workDir string) (*topology.Topology, error), routing proxy.Config) verify.StaticCheck {
	return verify.StaticCheck{
		Name: "validate",
		Fn: func(ctx context.Context, workDir string) error {
			topo, err := load(workDir)
			if err != nil {
				return fmt.Errorf("load topology: %w", err)
			}
			return v.Check(ctx, topo, routing)
		},
	}
}

var topologyChecks = []struct {
	err   error
	check string
}{
	{topology.ErrCycle, "topology.dependencies.cycle"},
	{topology.ErrUnknownService, "topology.service.unknown"},
	{topology.ErrUnknownVolume, "topology.volume.unknown"},
	{topology.ErrWriterConflict, "topology.volume.writer"},
	{topology.ErrReaderNotDependent, "topology.volume.order"},
	{topology.ErrUndeclaredMount, "topology.volume.undeclared"},
}

func checkTopology(topo *topology.Topology, r *model.ValidationResult) {
	err := topo.Validate()
	if err == nil {
		for _, s := range topo.Services {
			if strings.HasSuffix(s.Image, ":latest") || (s.Image != "" && !strings.Contains(lastSegment(s.Image), ":") && !strings.Contains(s.Image, "@")) {
				r.Add(model.ValidationFinding{
					Check:    "topology.image.unpinned",
					Severity: model.SeverityWarning,
					Message:  fmt.Sprintf("service %s image %q is not pinned to a tag", s.Name, s.Image),
					Field:    "services." + s.Name + ".image",
				})
			}
		}
		return
	}

	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}
	for _, e := range errs {
		check := "topology.invalid"
		for _, tc := range topologyChecks {
			if errors.Is(e, tc.err) {
				check = tc.check
				break
			}
		}
		r.Add(model.ValidationFinding{
			Check:    check,
			Severity: model.SeverityError,
			Message:  e.Error(),
		})
	}
}

func lastSegment(image string) string {
	return image[strings.LastIndex(image, "/")+1:]
}

func checkRouting(cfg proxy.Config, r *model.ValidationResult) {
	if err := cfg.Validate(); err != nil {
		check := "routing.invalid"
		if errors.Is(err, proxy.ErrTrailingSlash) {
			check = "routing.trailingSlash"
		}
		r.Add(model.ValidationFinding{
			Check:    check,
			Severity: model.SeverityError,
			Message:  err.Error(),
		})
		return
	}

	var hasRoot, hasCatchAll bool
	for _, rule := range cfg.Rules {
		if rule.Path == "/" && rule.Match == proxy.MatchExact {
			hasRoot = true
		}
		if rule.Path == "/" && rule.Match == proxy.MatchPrefix {
			hasCatchAll = true
		}
	}
	if !hasCatchAll {
		r.Add(model.ValidationFinding{
			Check:    "routing.catchAll.missing",
			Severity: model.SeverityWarning,
			Message:  "no prefix / location; unmatched paths return 404",
		})
	}
	if !hasRoot {
		r.Add(model.ValidationFinding{
			Check:    "routing.root.missing",
			Severity: model.SeverityInfo,
			Message:  "no exact / location; the landing page is served without the navigation fragment",
		})
	}
}

// checkWiring cross-checks the routing table against the proxy service: static
// roots must be mounted, upstreams must name a service, the listen port must
// be published.
func checkWiring(topo *topology.Topology, cfg proxy.Config, r *model.ValidationResult) {
	svc, ok := topo.Service(ProxyService)
	if !ok {
		r.Add(model.ValidationFinding{
			Check:    "wiring.proxy.missing",
			Severity: model.SeverityError,
			Message:  fmt.Sprintf("topology has no %s service", ProxyService),
		})
		return
	}

	names := map[string]bool{}
	for _, s := range topo.Services {
		names[s.Name] = true
		for _, a := range s.Aliases {
			names[a] = true
		}
	}

	for _, rule := range cfg.Rules {
		if rule.Static != nil {
			root := strings.TrimSuffix(rule.Static.Root, "/")
			mounted := false
			for _, m := range svc.Mounts {
				if strings.TrimSuffix(m.Path, "/") == root || strings.HasPrefix(root, strings.TrimSuffix(m.Path, "/")+"/") {
					mounted = true
				}
			}
			if !mounted {
				r.Add(model.ValidationFinding{
					Check:    "wiring.static.unmounted",
					Severity: model.SeverityError,
					Message:  fmt.Sprintf("location %s serves %s but %s mounts no volume there", rule, rule.Static.Root, ProxyService),
					Field:    "services." + ProxyService + ".mounts",
				})
			}
			continue
		}
		u, err := url.Parse(rule.Upstream)
		if err != nil {
			continue
		}
		if !names[u.Hostname()] {
			r.Add(model.ValidationFinding{
				Check:    "wiring.upstream.unknown",
				Severity: model.SeverityWarning,
				Message:  fmt.Sprintf("location %s forwards to %s which is not a service in the topology", rule, u.Hostname()),
			})
		}
	}

	published := false
	for _, p := range svc.Ports {
		if p.Container == cfg.Listen {
			published = true
		}
	}
	if !published {
		r.Add(model.ValidationFinding{
			Check:    "wiring.listen.unpublished",
			Severity: model.SeverityWarning,
			Message:  fmt.Sprintf("proxy listens on %d but %s does not publish it", cfg.Listen, ProxyService),
			Field:    "services." + ProxyService + ".ports",
		})
	}
	if svc.Healthcheck == nil {
		r.Add(model.ValidationFinding{
			Check:    "wiring.healthcheck.recommended",
			Severity: model.SeverityWarning,
			Message:  fmt.Sprintf("%s should define a healthcheck for post-deploy polling", ProxyService),
			Field:    "services." + ProxyService + ".healthcheck",
		})
	}
}

func (v *Validator) checkSecrets(ctx context.Context, r *model.ValidationResult) {
	if v.Secrets == nil {
		return
	}
	for _, key := range v.Required {
		_, err := v.Secrets.Get(ctx, key)
		switch {
		case errors.Is(err, secrets.ErrSecretNotFound):
			r.Add(model.ValidationFinding{
				Check:    "secrets.key.missing",
				Severity: model.SeverityError,
				Message:  fmt.Sprintf("secret %q is not set", key),
			})
		case err != nil:
			r.Add(model.ValidationFinding{
				Check:    "secrets.read.error",
				Severity: model.SeverityWarning,
				Message:  fmt.Sprintf("could not read secret %q: %v", key, err),
			})
		}
	}
}

func (v *Validator) checkTarget(r *model.ValidationResult) {
	t := v.Target
	if !t.Enabled {
		r.Add(model.ValidationFinding{
			Check:    "deploy.target.disabled",
			Severity: model.SeverityInfo,
			Message:  "deploy target disabled; the deploy stage will be skipped",
		})
		return
	}
	if t.User == "" {
		r.Add(model.ValidationFinding{
			Check:    "deploy.user.required",
			Severity: model.SeverityError,
			Message:  "enabled deploy target requires a user",
			Field:    "deploy.user",
		})
	}
	if t.KeyRef == "" {
		r.Add(model.ValidationFinding{
			Check:    "deploy.keyRef.required",
			Severity: model.SeverityError,
			Message:  "enabled deploy target requires a key reference",
			Field:    "deploy.keyRef",
		})
	}
	if t.KnownHostsFile == "" {
		r.Add(model.ValidationFinding{
			Check:    "deploy.knownHosts.recommended",
			Severity: model.SeverityWarning,
			Message:  "host key of the deploy target will not be verified",
			Field:    "deploy.knownHostsFile",
		})
	}
}
