// Package server provides the public entry point for initializing the Stride
// assistant service.
//
// It lives in pkg/ (not internal/) so deployment-specific builds can compose
// the server with their own retriever and channel drivers:
//
//	srv, err := server.New(ctx, &server.Options{Retriever: myRetriever})
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/stridehq/stride/internal/api"
	"github.com/stridehq/stride/internal/audit"
	"github.com/stridehq/stride/internal/config"
	"github.com/stridehq/stride/internal/kv"
	"github.com/stridehq/stride/internal/llm"
	"github.com/stridehq/stride/internal/notify"
	"github.com/stridehq/stride/internal/orchestrator"
	"github.com/stridehq/stride/internal/ratelimit"
	"github.com/stridehq/stride/internal/reminders"
	"github.com/stridehq/stride/internal/session"
	"github.com/stridehq/stride/internal/store"
	"github.com/stridehq/stride/internal/telemetry"
	"github.com/stridehq/stride/pkg/contracts"
	"github.com/stridehq/stride/pkg/models"
)

// Options are the deployment-supplied collaborators. Both are optional: with
// no Retriever the assistant answers from an empty result set, and extra
// Drivers extend the notification channels beyond the built-ins.
type Options struct {
	Retriever contracts.Retriever
	Drivers   []contracts.ChannelDriver
}

// Server holds the initialized assistant service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Scheduler is the reminder sweep loop; run it with StartScheduler.
	Scheduler *reminders.Scheduler

	// Port is the port the server should listen on.
	Port int

	Config *config.Config

	store             store.Store
	sessionKV         kv.Store
	recorder          *audit.Recorder
	shutdownTelemetry func(context.Context) error
}

// New initializes all components and returns a ready Server.
func New(ctx context.Context, opts *Options) (*Server, error) {
	cfg := config.Load()
	if opts == nil {
		opts = &Options{}
	}

	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// Durable store: Postgres when configured, in-memory otherwise.
	var dataStore store.Store
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		dataStore = pg
		log.Info().Msg("postgres store initialized")
	} else {
		dataStore = store.NewMemoryStore()
		log.Info().Msg("in-memory store initialized")
	}

	// Shared state (sessions, rate buckets): Redis when configured, so the
	// limits and conversations hold across instances.
	var (
		sessionKV kv.Store
		buckets   ratelimit.BucketStore
	)
	if cfg.Redis.URL != "" {
		rdb, err := kv.NewRedis(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		sessionKV = rdb
		rb, err := ratelimit.NewRedisBuckets(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("connect redis buckets: %w", err)
		}
		buckets = rb
		log.Info().Msg("redis session and bucket stores initialized")
	} else {
		sessionKV = kv.NewMemory()
		buckets = ratelimit.NewMemoryBuckets()
		log.Info().Msg("in-process session and bucket stores initialized")
	}

	sessions := session.NewStore(sessionKV, session.Config{
		TTL:          cfg.Session.TTL,
		MaxMessages:  cfg.Session.MaxMessages,
		OrdinalScope: cfg.Session.OrdinalScope,
	})

	limiter := ratelimit.NewController(buckets,
		ratelimit.MinuteWindow(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		ratelimit.HourWindow(cfg.RateLimit.PerHour))

	recorder := audit.NewRecorder(dataStore, audit.Config{
		BatchSize:  cfg.Audit.BatchSize,
		MaxDelay:   cfg.Audit.MaxDelay,
		MaxRetries: cfg.Audit.MaxRetries,
	})

	var model contracts.ModelBackend
	if cfg.Model.APIKey != "" {
		model = llm.NewOpenAIBackend(cfg.Model)
		log.Info().Str("model", cfg.Model.Model).Msg("model backend initialized")
	} else {
		log.Warn().Msg("no model API key configured, every query takes the fallback path")
	}

	orch := orchestrator.New(limiter, sessions, opts.Retriever, model,
		recorder, dataStore, cfg.Model.Timeout)

	dispatcher := notify.NewDispatcher(dataStore)
	dispatcher.RegisterDriver(notify.NewInAppDriver())
	if cfg.Notify.PushWebhookURL != "" {
		dispatcher.RegisterDriver(notify.NewWebhookDriver(
			models.ChannelPush, cfg.Notify.PushWebhookURL, cfg.Notify.PushWebhookSecret))
		log.Info().Msg("push webhook driver registered")
	}
	if cfg.Notify.EmailWebhookURL != "" {
		dispatcher.RegisterDriver(notify.NewWebhookDriver(
			models.ChannelEmail, cfg.Notify.EmailWebhookURL, cfg.Notify.EmailWebhookSecret))
		log.Info().Msg("email webhook driver registered")
	}
	for _, d := range opts.Drivers {
		dispatcher.RegisterDriver(d)
	}

	scheduler := reminders.NewScheduler(dataStore, dispatcher,
		cfg.Reminders.SweepInterval, cfg.Reminders.SweepLimit)

	router := api.NewRouter(cfg, api.NewHandlers(orch, sessions, dataStore))

	return &Server{
		Handler:           router,
		Scheduler:         scheduler,
		Port:              cfg.Port,
		Config:            cfg,
		store:             dataStore,
		sessionKV:         sessionKV,
		recorder:          recorder,
		shutdownTelemetry: shutdown,
	}, nil
}

// StartScheduler runs the reminder sweep loop until ctx is canceled.
func (s *Server) StartScheduler(ctx context.Context) {
	go s.Scheduler.Run(ctx)
}

// Shutdown flushes and releases everything the HTTP layer does not own.
// Call it after the HTTP server has drained and the scheduler context is
// canceled: queued audit records flush first, then telemetry, then the
// backing stores close.
func (s *Server) Shutdown(ctx context.Context) {
	s.recorder.Close()

	if err := s.shutdownTelemetry(ctx); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown failed")
	}
	if err := s.sessionKV.Close(); err != nil {
		log.Warn().Err(err).Msg("session store close failed")
	}
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}
}
