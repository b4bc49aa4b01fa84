package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"nodeship/api/hub"
	"nodeship/api/logging"
	"nodeship/api/model"
	"nodeship/api/pipeline"
)

// Recorder stores health check results.
type Recorder interface {
	InsertHealthCheck(ctx context.Context, hc *model.HealthCheck) error
	PruneHealthChecks(ctx context.Context) (int64, error)
}

// Target is one public endpoint of the node.
type Target struct {
	Service string
	URL     string
}

// Poller periodically checks the node's public endpoints and records
// results. Start order never waits on it; it only reports.
type Poller struct {
	pipeline.NopObserver

	DB       Recorder
	WS       *hub.Hub
	Targets  []Target
	Interval time.Duration
	Client   *http.Client
	Log      *zap.Logger
}

// TargetsFromURLs names each target after its URL.
func TargetsFromURLs(urls []string) []Target {
	out := make([]Target, 0, len(urls))
	for _, u := range urls {
		out = append(out, Target{Service: u, URL: u})
	}
	return out
}

// Run starts the polling loop. It blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	log := logging.OrNop(p.Log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pruneTicker := time.NewTicker(1 * time.Hour)
	defer pruneTicker.Stop()

	p.CheckAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CheckAll(ctx)
		case <-pruneTicker.C:
			if p.DB == nil {
				continue
			}
			n, err := p.DB.PruneHealthChecks(ctx)
			if err != nil {
				log.Warn("health prune failed", zap.Error(err))
			} else if n > 0 {
				log.Info("health pruned old checks", zap.Int64("count", n))
			}
		}
	}
}

// CheckAll polls every target concurrently and waits for the results.
func (p *Poller) CheckAll(ctx context.Context) []model.HealthCheck {
	results := make([]model.HealthCheck, len(p.Targets))
	var wg sync.WaitGroup
	for i, t := range p.Targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.checkOne(ctx, t)
		}()
	}
	wg.Wait()
	return results
}

func (p *Poller) Name() string { return "health" }

// RunFinished polls once after a release whose deploy stage succeeded.
func (p *Poller) RunFinished(ctx context.Context, rel *model.Release) error {
	if s, ok := rel.Stage(pipeline.StageDeploy); !ok || s.Status != model.StageSucceeded {
		return nil
	}
	go p.CheckAll(context.WithoutCancel(ctx))
	return nil
}

func (p *Poller) checkOne(ctx context.Context, t Target) model.HealthCheck {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	log := logging.OrNop(p.Log)

	start := time.Now()
	hc := model.HealthCheck{
		ID:        fmt.Sprintf("%s-%d", t.Service, start.UnixNano()),
		Service:   t.Service,
		URL:       t.URL,
		CheckedAt: start,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err == nil {
		var resp *http.Response
		resp, err = client.Do(req)
		if err == nil {
			hc.StatusCode = resp.StatusCode
			hc.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 400
			resp.Body.Close()
		}
	}
	hc.ResponseMs = int(time.Since(start).Milliseconds())
	if err != nil {
		log.Debug("health check failed", zap.String("url", t.URL), zap.Error(err))
	}

	if p.DB != nil {
		if err := p.DB.InsertHealthCheck(ctx, &hc); err != nil {
			log.Warn("health insert failed", zap.String("service", t.Service), zap.Error(err))
		}
	}
	if p.WS != nil {
		p.WS.Broadcast(hub.Event{Type: hub.EventHealth, Payload: hc})
	}
	return hc
}
