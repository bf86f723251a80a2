package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"skynet/internal/api"
	"skynet/internal/audit"
	"skynet/internal/cache"
	"skynet/internal/config"
	"skynet/internal/database"
	"skynet/internal/escalation"
	"skynet/internal/events"
	"skynet/internal/health"
	"skynet/internal/jobs"
	"skynet/internal/metrics"
	"skynet/internal/notify"
	"skynet/internal/service"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	bus := events.NewEventBus(&logger)
	audit.NewRecorder(db, &logger).Subscribe(bus)

	queue := newQueue(rdb, cfg, &logger)
	scheduler := escalation.NewScheduler(queue, cfg.EscalationLead(), &logger)
	resolver := escalation.NewResolver(bus, &logger)

	notifier, closeNotifiers := newNotifier(cfg, &logger)
	defer closeNotifiers()

	checker := escalation.NewChecker(db, bus, notifier, &logger)
	runner := jobs.NewRunner(queue, jobs.RunnerConfig{
		PollInterval: cfg.JobPollInterval(),
		BatchSize:    cfg.JobBatchSize(),
		Retry: jobs.RetryConfig{
			MaxAttempts: cfg.JobMaxAttempts(),
			RetryDelays: cfg.JobRetryDelays(),
		},
	}, &logger)
	runner.Handle(escalation.JobKind, checker.Handle)
	go runner.Start(ctx)

	reconciler := escalation.NewReconciler(db, scheduler, &logger)
	go reconciler.Start(ctx, cfg.ReconcileInterval())

	go database.NewBackupService(db, cfg.Backup, &logger).Start(ctx, cfg.BackupInterval())

	bookings := service.NewBookingService(db, scheduler, resolver, bus, service.Options{
		LeadTime:        cfg.BookingLeadTime(),
		DefaultPageSize: cfg.DefaultPageSize(),
		MaxPageSize:     cfg.MaxPageSize(),
	}, &logger)
	escalations := service.NewEscalationService(db, bus, &logger)

	var lister service.EscalationLister = escalations
	if rdb != nil && cfg.EscalationsCacheTTL() > 0 {
		c := cache.NewEscalationCache(escalations, rdb, cfg.EscalationsCacheTTL(), &logger)
		c.Subscribe(bus)
		lister = c
	}

	httpServer := api.NewHTTPServer(api.Deps{
		Bookings:    bookings,
		Escalations: lister,
		Dismisser:   escalations,
		Audit:       audit.NewExporter(db, &logger),
		APIKeys:     cfg.Server.APIKeys,
	}, &logger)

	checks := health.New(time.Second, &logger)
	checks.Add("db", db.PingContext)
	if rdb != nil {
		checks.Add("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8081
	}
	go serve(ctx, fmt.Sprintf(":%d", cfg.Monitoring.HealthCheckPort), checks.Handler(), "health", &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9100
		}
		metrics.Register()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go serve(ctx, fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort), mux, "metrics", &logger)
	}

	if cfg.Server.GRPCAddr != "" {
		go startGRPCHealth(ctx, cfg.Server.GRPCAddr, checks, &logger)
	}

	logger.Info().Str("addr", cfg.Server.HTTPAddr).Msg("Skynet scheduler started")
	serve(ctx, cfg.Server.HTTPAddr, httpServer.Routes(), "api", &logger)
	runner.Stop()
	logger.Info().Msg("Skynet scheduler stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Console {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newQueue prefers Redis and keeps an in-process queue as fallback for outages.
func newQueue(rdb *redis.Client, cfg *config.Config, logger *zerolog.Logger) jobs.Queue {
	memory := jobs.NewMemoryQueue(cfg.JobLease())
	if rdb == nil {
		logger.Warn().Msg("Redis is not configured; escalation jobs are kept in memory")
		return memory
	}
	return jobs.NewFailoverQueue(jobs.NewRedisQueue(rdb, "skynet:jobs", cfg.JobLease()), memory, logger)
}

func newNotifier(cfg *config.Config, logger *zerolog.Logger) (notify.Notifier, func()) {
	multi := notify.NewMulti()
	multi.Add("log", notify.NewLogNotifier(logger))
	closers := []func(){}

	if token := cfg.Notifications.Telegram.BotToken; token != "" {
		bot, err := notify.NewTelegramBot(token)
		if err != nil {
			logger.Error().Err(err).Msg("Telegram notifications disabled")
		} else {
			multi.Add("telegram", notify.NewTelegramNotifier(bot, cfg.Notifications.Telegram.TenantChats,
				cfg.Notifications.RatePerSecond, cfg.Notifications.Burst))
		}
	}

	if url := cfg.Notifications.NATS.URL; url != "" {
		conn, err := notify.ConnectNATS(url)
		if err != nil {
			logger.Error().Err(err).Msg("NATS notifications disabled")
		} else {
			multi.Add("nats", notify.NewNATSNotifier(conn, cfg.Notifications.NATS.Subject))
			closers = append(closers, func() { _ = conn.Drain() })
		}
	}

	return multi, func() {
		for _, c := range closers {
			c()
		}
	}
}

func serve(ctx context.Context, addr string, handler http.Handler, name string, logger *zerolog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Str("server", name).Msg("server error")
	}
}

func startGRPCHealth(ctx context.Context, addr string, checks *health.Checker, logger *zerolog.Logger) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error().Err(err).Str("addr", addr).Msg("grpc listen error")
		return
	}

	srv := grpc.NewServer()
	checks.RegisterGRPC(srv)
	go checks.Watch(ctx, 10*time.Second)
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		logger.Error().Err(err).Msg("grpc server error")
	}
}
