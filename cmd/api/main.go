package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callqueue/internal/agents"
	"callqueue/internal/audit"
	"callqueue/internal/auth"
	"callqueue/internal/calls"
	"callqueue/internal/config"
	"callqueue/internal/dispatch"
	"callqueue/internal/metrics"
	"callqueue/internal/queue"
	"callqueue/internal/routing"
	"callqueue/internal/telemetry"
	"callqueue/internal/telephony"
	"callqueue/pkg/logger"
	"callqueue/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "callqueue"

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing := telemetry.Setup(rootCtx, log, serviceName, telemetry.Config{
		Endpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure: cfg.Telemetry.OTLPInsecure,
	})

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	d := deps{
		cfg:      cfg,
		auth:     authManager,
		registry: reg,
		metrics:  metrics.NewPrometheusRecorder(reg),
	}

	var (
		store    calls.Store
		locker   agents.Locker
		auditLog audit.Repository
	)
	if cfg.UsePostgres() {
		db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxConns: int32(cfg.DB.MaxConns)})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()

		// The locker holds its connection for a whole assignment attempt while
		// the attempt runs its own transactions on db.
		lockDB, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxConns: int32(cfg.DB.LockerMaxConns)})
		if err != nil {
			log.Error("postgres locker pool init failed", "err", err)
			os.Exit(1)
		}
		defer lockDB.Close()

		store = calls.NewPostgresStore(db)
		locker = agents.NewPostgresLocker(lockDB)
		auditLog = audit.NewPostgresRepo(db)
		d.readiness = append(d.readiness, check{"postgres", func(ctx context.Context) error {
			return utils.HealthCheck(ctx, db, 2*time.Second)
		}})
	} else {
		log.Warn("DB_HOST not set; using in-memory stores")
		mem := agents.NewMemoryLocker()
		for _, a := range cfg.Dispatch.LocalAgents {
			mem.Put(agents.Agent{CSRID: a.CSRID, PhoneNumber: a.PhoneNumber})
		}
		store = calls.NewMemoryStore()
		locker = mem
		auditLog = audit.NewMemoryRepo()
	}

	var waiting queue.WaitingQueue
	if cfg.UseRedis() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()

		waiting = queue.NewRedisQueue(rdb, cfg.Dispatch.QueueKey)
		d.readiness = append(d.readiness, check{"redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	} else {
		log.Warn("REDIS_HOST not set; using in-memory waiting queue")
		waiting = queue.NewMemoryQueue()
	}

	d.urls = telephony.URLs{Base: cfg.Twilio.PublicBaseURL}
	var provider telephony.Provider = telephony.LocalProvider{}
	if cfg.Twilio.AccountSID != "" {
		provider = telephony.NewTwilioProvider(telephony.TwilioConfig{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			APIBase:    cfg.Twilio.APIBase,
			URLs:       d.urls,
		})
	}
	d.readiness = append(d.readiness, check{provider.Name(), provider.HealthCheck})
	log.Info("telephony provider selected", "provider", provider.Name())

	var policy *routing.Policy
	if cfg.Routing.PolicyFile != "" {
		policy, err = routing.LoadPolicyFile(cfg.Routing.PolicyFile)
		if err != nil {
			log.Error("routing policy load failed", "err", err, "path", cfg.Routing.PolicyFile)
			os.Exit(1)
		}
	}
	d.router = routing.NewPolicyEngine(policy)

	d.gateway = calls.NewGateway(store, provider)
	d.locker = locker

	var popURLs dispatch.PopURLFinder
	if cfg.Dispatch.PopURLTemplate != "" {
		popURLs = dispatch.TemplatePopURLFinder{Template: cfg.Dispatch.PopURLTemplate}
	}
	d.coordinator = dispatch.NewCoordinator(d.gateway, waiting, locker, dispatch.Options{
		PopURLs:            popURLs,
		Audit:              audit.NewService(auditLog),
		Metrics:            d.metrics,
		MaxRedirectRetries: cfg.Dispatch.MaxRedirectRetries,
	})

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, d)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           otelhttp.NewHandler(r, serviceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Dequeue may retry several redirects before answering.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown failed", "err", err)
	}
}
