package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"nodeship/api/assembly"
	"nodeship/api/auth"
	"nodeship/api/config"
	ncron "nodeship/api/cron"
	"nodeship/api/handler"
	"nodeship/api/health"
	"nodeship/api/hub"
	"nodeship/api/logging"
	"nodeship/api/model"
	"nodeship/api/notify"
	"nodeship/api/pipeline"
	"nodeship/api/saga"
	"nodeship/api/store"
)

var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.Env, "nodeship-api")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		releases store.Releases = store.NewMemory()
		events   saga.Store     = saga.NewMemoryStore()
		healthDB health.Recorder
		history  handler.HealthHistory
		checks   []handler.Check
	)
	db, err := store.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Warn("database unavailable, keeping releases in memory", zap.Error(err))
	} else {
		defer db.Close()
		if err := store.Migrate(db); err != nil {
			log.Fatal("migration", zap.Error(err))
		}
		pg := saga.NewPostgresStore(db.Pool())
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal("event log migration", zap.Error(err))
		}
		if n, err := db.RecoverInFlightReleases(ctx); err != nil {
			log.Warn("release recovery", zap.Error(err))
		} else if n > 0 {
			log.Info("marked interrupted releases failed", zap.Int64("count", n))
		}
		releases, events, healthDB, history = db, pg, db, db
		checks = append(checks, handler.Check{Name: "postgres", Fn: db.Ping})
	}

	ws := hub.New(cfg.AllowedOrigins, log.Named("hub"))
	go ws.Run(ctx)

	poller := &health.Poller{
		DB:       healthDB,
		WS:       ws,
		Targets:  health.TargetsFromURLs(cfg.HealthEndpoints),
		Interval: cfg.HealthInterval,
		Log:      log.Named("health"),
	}
	if len(poller.Targets) > 0 {
		go poller.Run(ctx)
	}

	observers := []pipeline.Observer{
		&store.Recorder{DB: releases},
		&pipeline.SagaObserver{Store: events, Source: "nodeship-api"},
		&pipeline.HubObserver{Hub: ws},
		poller,
	}
	var github *notify.GitHubReporter
	if cfg.GitHubToken != "" {
		github = notify.NewGitHubReporter(ctx, cfg.GitHubToken, log.Named("github"))
		if cfg.PublicURL != "" {
			github.TargetURL = strings.TrimSuffix(cfg.PublicURL, "/") + "/releases/{id}"
		}
		observers = append(observers, github)
	}

	stack, err := assembly.Build(ctx, cfg, log, observers...)
	if err != nil {
		log.Fatal("pipeline", zap.Error(err))
	}
	stack.Pipeline.Metrics = pipeline.NewMetrics(prometheus.DefaultRegisterer)
	if stack.Archive != nil {
		checks = append(checks, handler.Check{Name: "s3", Fn: stack.Archive.Healthy})
	}

	h := handler.New(handler.Deps{
		Config:    cfg,
		Pipeline:  stack.Pipeline,
		Releases:  releases,
		Events:    events,
		Hub:       ws,
		Validator: stack.Validator,
		Topology:  stack.Topology,
		Routing:   stack.Routing,
		Checks:    checks,
		History:   history,
		Log:       log.Named("handler"),
	})

	var scheduler *ncron.Scheduler
	if cfg.CronSchedule != "" {
		var head ncron.HeadFunc
		if github != nil {
			head = github.BranchHead
		}
		scheduler = ncron.New(cfg.Repository, "", cfg.ReleaseBranch, head, func(ctx context.Context, t model.Trigger) {
			h.Enqueue(ctx, t)
		}, log.Named("cron"))
		scheduler.SkipUnchanged = head != nil
		if err := scheduler.UpdateSchedule(cfg.CronSchedule); err != nil {
			log.Fatal("cron schedule", zap.String("schedule", cfg.CronSchedule), zap.Error(err))
		}
		scheduler.Start()
		h.SetScheduler(scheduler)
	}

	guard := auth.NewGuard(auth.Options{
		Token:         cfg.APIToken,
		TeamDomain:    cfg.AccessTeamDomain,
		Audience:      cfg.AccessAudience,
		AllowedEmails: cfg.AccessEmails,
		Public:        []string{"/api/health", "/api/version", "/api/webhooks/push", "/metrics", "/ws"},
		Log:           log.Named("auth"),
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLog(log.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Cf-Access-Jwt-Assertion"},
		AllowCredentials: true,
	}))
	r.Use(guard.Middleware)

	h.Routes(r)
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"version": Version})
	})
	r.Get("/ws", ws.HandleConnect)
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("nodeship listening", zap.String("version", Version), zap.String("addr", srv.Addr), zap.Bool("auth", guard.Enabled()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	if scheduler != nil {
		scheduler.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	// a started release always runs to completion
	h.Wait()
}

func requestLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
