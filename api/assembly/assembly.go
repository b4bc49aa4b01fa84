// Package assembly builds the release pipeline and node declarations from
// configuration. The API server and the CLI share it.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"nodeship/api/config"
	"nodeship/api/deployer"
	"nodeship/api/image"
	"nodeship/api/logging"
	"nodeship/api/pipeline"
	"nodeship/api/proxy"
	"nodeship/api/secrets"
	"nodeship/api/storage"
	"nodeship/api/topology"
	"nodeship/api/validate"
	"nodeship/api/verify"
)

type Stack struct {
	Pipeline  *pipeline.Pipeline
	Secrets   secrets.Store
	Validator *validate.Validator
	Topology  *topology.Topology
	Routing   proxy.Config
	Archive   *storage.Client // nil when no S3 endpoint is configured
}

// Secrets reads the environment first, then the SOPS file when one is set.
func Secrets(cfg *config.Config) secrets.Store {
	chain := secrets.Chain{secrets.NewEnvStore("")}
	if cfg.SecretsFile != "" {
		chain = append(chain, secrets.NewSOPSStore(cfg.SecretsFile))
	}
	return chain
}

// Topology loads the configured topology file, or the default node layout.
// A relative file is resolved against dir.
func Topology(cfg *config.Config, dir string) (*topology.Topology, error) {
	if cfg.TopologyFile == "" {
		return topology.Default(topology.Defaults{
			BackendImage: cfg.BackendImage + ":latest",
			ProxyImage:   cfg.ProxyImage + ":latest",
			NodePort:     cfg.NodePort,
			ProxyPort:    cfg.ProxyListen,
			DataDir:      cfg.NodeDataDir,
			ConfDir:      filepath.Dir(cfg.RoutingConfig),
		}), nil
	}
	path := cfg.TopologyFile
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	return topology.Load(path)
}

// Routing reads the routing config written by the backend. A proxy must not
// start without it, so a missing file is proxy.ErrConfigMissing.
func Routing(cfg *config.Config) (proxy.Config, error) {
	return proxy.LoadFile(cfg.RoutingConfig)
}

// DefaultRouting is the table the backend writes for this config.
func DefaultRouting(cfg *config.Config) proxy.Config {
	return proxy.Config{
		Listen: cfg.ProxyListen,
		Rules:  proxy.DefaultRules(cfg.NodeAddr(), cfg.NodeDataDir, cfg.ProxyMarker, cfg.ProxyFragment),
	}
}

// PlannedRouting is the written config when present, else the default table.
// Validation uses it before any backend has run.
func PlannedRouting(cfg *config.Config) (proxy.Config, error) {
	rc, err := Routing(cfg)
	if errors.Is(err, proxy.ErrConfigMissing) {
		return DefaultRouting(cfg), nil
	}
	return rc, err
}

func Validator(cfg *config.Config, store secrets.Store) *validate.Validator {
	v := &validate.Validator{Secrets: store, Target: cfg.DeployTarget()}
	if v.Target.Enabled {
		v.Required = []string{cfg.DeployKeyRef, cfg.DeployCredential}
	}
	return v
}

// Build wires the canonical stage chain. The archive client is optional; a
// bucket that cannot be reached only disables report archiving.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, observers ...pipeline.Observer) (*Stack, error) {
	log = logging.OrNop(log)
	store := Secrets(cfg)

	topo, err := Topology(cfg, "")
	if err != nil {
		return nil, err
	}
	routing, err := PlannedRouting(cfg)
	if err != nil {
		return nil, fmt.Errorf("routing config: %w", err)
	}
	validator := Validator(cfg, store)

	mode, err := verify.ParseMode(cfg.TestMode)
	if err != nil {
		return nil, err
	}
	runner := &verify.Runner{
		Setup:   verify.DefaultSetup(),
		Checks:  verify.DefaultChecks(),
		Workers: cfg.VerifyWorkers,
		Harness: verify.Harness{Mode: mode},
		Static: []verify.StaticCheck{
			validator.StaticCheck(func(dir string) (*topology.Topology, error) { return Topology(cfg, dir) }, routing),
		},
		Log: log.Named("verify"),
	}

	var archive *storage.Client
	if cfg.S3Endpoint != "" {
		archive, err = storage.NewClient(storage.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		}, log.Named("storage"))
		if err == nil {
			err = archive.EnsureBucket(ctx)
		}
		if err != nil {
			log.Warn("report archive unavailable", zap.String("endpoint", cfg.S3Endpoint), zap.Error(err))
			archive = nil
		} else {
			runner.Archive = archive
		}
	}

	targets := image.DefaultTargets(cfg.BackendImage, cfg.ProxyImage)
	builder := &image.DockerBuilder{
		Registry:   cfg.RegistryHost,
		User:       cfg.RegistryUser,
		Token:      cfg.RegistryToken,
		PushLatest: cfg.PushLatest,
		Checker:    &image.RegistryChecker{User: cfg.RegistryUser, Token: cfg.RegistryToken},
		Log:        log.Named("image"),
	}

	exec := &deployer.Executor{
		Script: deployer.ScriptSource{
			BaseURL: cfg.ScriptBaseURL,
			Ref:     cfg.ScriptRef,
			Path:    cfg.ScriptPath,
			SHA256:  cfg.ScriptSHA256,
		},
		Secrets: store,
		Dialer:  &deployer.SSHDialer{Log: log.Named("ssh")},
		Log:     log.Named("deployer"),
	}
	if exec.Script.Moving() {
		log.Warn("deployment script ref is not pinned", zap.String("ref", cfg.ScriptRef))
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	stages := pipeline.DefaultStages(pipeline.Deps{
		Checkout:      &pipeline.Checkout{Token: cfg.GitHubToken, TempDir: workDir, Log: log.Named("checkout")},
		Verify:        runner,
		Publisher:     builder,
		Backend:       targets[0],
		Proxy:         targets[1],
		Deployer:      exec,
		Secrets:       store,
		CredentialKey: cfg.DeployCredential,
	})
	graph, err := pipeline.NewGraph(stages...)
	if err != nil {
		return nil, err
	}

	return &Stack{
		Pipeline:  pipeline.New(graph, log.Named("pipeline"), observers...),
		Secrets:   store,
		Validator: validator,
		Topology:  topo,
		Routing:   routing,
		Archive:   archive,
	}, nil
}
