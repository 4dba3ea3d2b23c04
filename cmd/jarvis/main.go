// Jarvis is an autonomous alert-remediation service: it accepts alert
// webhooks, diagnoses them with an LLM tool-calling agent, executes bounded
// remediation commands over SSH, and learns from every outcome.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/jarvis/internal/analyzer"
	"github.com/linnemanlabs/jarvis/internal/api"
	"github.com/linnemanlabs/jarvis/internal/cfg"
	"github.com/linnemanlabs/jarvis/internal/hostmonitor"
	"github.com/linnemanlabs/jarvis/internal/learner"
	"github.com/linnemanlabs/jarvis/internal/llm/claude"
	"github.com/linnemanlabs/jarvis/internal/log"
	"github.com/linnemanlabs/jarvis/internal/metrics"
	"github.com/linnemanlabs/jarvis/internal/notify"
	"github.com/linnemanlabs/jarvis/internal/notify/webhook"
	"github.com/linnemanlabs/jarvis/internal/pipeline"
	"github.com/linnemanlabs/jarvis/internal/queue"
	"github.com/linnemanlabs/jarvis/internal/selfpreserver"
	"github.com/linnemanlabs/jarvis/internal/sshexec"
	"github.com/linnemanlabs/jarvis/internal/store"
	"github.com/linnemanlabs/jarvis/internal/store/memstore"
	"github.com/linnemanlabs/jarvis/internal/store/pgstore"
	"github.com/linnemanlabs/jarvis/internal/suppressor"
	"github.com/linnemanlabs/jarvis/internal/version"
)

const defaultKnownHostsPath = "/var/lib/jarvis/known_hosts"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var appCfg cfg.Config
	var logCfg log.Config
	appCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		vi := version.Get()
		fmt.Printf("%s (%s) %s (commit=%s, build_date=%s)\n", vi.AppName, vi.Component, vi.Version, vi.Commit, vi.BuildDate)
		return nil
	}

	appCfg.FillFromEnv()

	if err := errors.Join(appCfg.Validate(), logCfg.Validate()); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger, err := log.New(logCfg)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx = log.WithContext(ctx, logger)
	logger.Info(ctx, "initializing jarvis", "version", version.Get().Version, "http_port", appCfg.APIPort)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var st store.Store
	if appCfg.DatabaseURL != "" {
		pg, err := pgstore.Connect(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("pgstore connect: %w", err)
		}
		st = pg
		logger.Info(ctx, "using postgres store")
	} else {
		st = memstore.New()
		logger.Info(ctx, "using in-memory store (no DATABASE_URL configured)")
	}
	defer st.Close()

	creds := appCfg.HostCredentials()
	if appCfg.SSHHostsFile != "" {
		fileCreds, err := cfg.LoadHostsFile(appCfg.SSHHostsFile)
		if err != nil {
			return fmt.Errorf("load ssh hosts file: %w", err)
		}
		for name, c := range fileCreds {
			creds[name] = c
		}
	}

	executor, err := sshexec.New(creds, appCfg.SSHKeyPath, defaultKnownHostsPath, logger, m)
	if err != nil {
		return fmt.Errorf("sshexec init: %w", err)
	}
	defer executor.Close()

	hosts := hostmonitor.New(st, logger, m)
	if err := hosts.Rehydrate(ctx); err != nil {
		logger.Error(ctx, err, "host status rehydrate failed, continuing with empty state")
	}

	var notifier notify.Notifier = webhook.New(appCfg.NotifierWebhookURL, appCfg.NotifierEnabled)

	sup := suppressor.New(st, notifier, logger)
	if err := sup.Rehydrate(ctx); err != nil {
		logger.Error(ctx, err, "suppressor rehydrate failed, continuing with empty state")
	}
	hosts.OnRecovery(sup.OnHostRecovery)

	lrn := learner.New(st, appCfg.LearnerHighConfidence, appCfg.LearnerMediumConfidence)

	llmProvider := claude.New(appCfg.LLMAPIKey, appCfg.LLMModel)
	an := analyzer.New(llmProvider, executor, logger, st)

	self := selfpreserver.New(st, notifier, logger, appCfg.OrchestratorWebhookURL,
		fmt.Sprintf("http://localhost:%d/resume", appCfg.APIPort),
		fmt.Sprintf("http://localhost:%d/health", appCfg.APIPort))

	pl := pipeline.New(st, hosts, sup, lrn, an, executor, notifier, logger, pipeline.Config{
		MaxAttemptsPerAlert: appCfg.MaxAttemptsPerAlert,
		AttemptWindowHours:  appCfg.AttemptWindowHours,
		CommandTimeoutSec:   appCfg.CommandTimeoutSec,
	})

	q := queue.New(logger, m)

	var bg sync.WaitGroup
	bg.Add(3)
	go func() {
		defer bg.Done()
		hostmonitor.RunProbe(ctx, hosts, func(probeCtx context.Context, host string) error {
			_, err := executor.Execute(probeCtx, host, "true", 10*time.Second)
			return err
		})
	}()
	go func() {
		defer bg.Done()
		selfpreserver.RunSweep(ctx, self)
	}()
	go func() {
		defer bg.Done()
		queue.Run(ctx, q, func() bool { return true }, func(drainCtx context.Context, qa queue.QueuedAlert) error {
			return pl.Process(drainCtx, qa.Alert)
		})
	}()

	httpAPI := api.New(logger, st, q, pl, self, appCfg.WebhookAuthUsername, appCfg.WebhookAuthPassword)

	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(logger))
	httpAPI.RegisterRoutes(r)

	var h http.Handler = otelhttp.NewHandler(r, "http.server",
		otelhttp.WithFilter(func(req *http.Request) bool { return req.URL.Path != "/health" }),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", appCfg.APIPort),
		Handler:      h,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received, draining")
	case err := <-serveErr:
		return fmt.Errorf("http server failed: %w", err)
	}

	// Phase 1: stop accepting new work and let in-flight HTTP requests
	// finish, bounded by DrainSeconds.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), time.Duration(appCfg.DrainSeconds)*time.Second)
	defer cancelDrain()
	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Error(drainCtx, err, "http drain failed, forcing close")
		_ = srv.Close()
	}

	// Phase 2: background goroutines are already unwinding (stop() cancelled
	// ctx above); give them the remaining shutdown budget to finish cleanly.
	remaining := time.Duration(appCfg.ShutdownBudgetSeconds-appCfg.DrainSeconds) * time.Second
	done := make(chan struct{})
	go func() {
		bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info(ctx, "background workers stopped cleanly")
	case <-time.After(remaining):
		logger.Info(ctx, "shutdown budget exhausted, exiting with workers still draining")
	}
	return nil
}

// accessLog is a minimal request logger in the absence of a shared ambient
// middleware library; it logs method, path, status, and duration.
func accessLog(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)
			logger.Info(req.Context(), "http request",
				"method", req.Method, "path", req.URL.Path,
				"status", ww.Status(), "duration_ms", time.Since(start).Milliseconds())
		})
	}
}

