// Package main provides the form-sync server: the submission webhook and the
// template administration API over a single database.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/api"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/authz"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/db"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/forms"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/households"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/ingest"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/ledger"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/metrics"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/platform"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/reconcile"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/syncer"
)

func main() {
	dbCfg := db.ConfigFromEnv()

	var (
		listenAddr      string
		shutdownTimeout time.Duration
		logLevel        string
	)
	flag.StringVar(&listenAddr, "listen", ":8080", "Address to listen on")
	flag.StringVar(&dbCfg.Type, "db-type", dbCfg.Type, "Database type (postgres, mysql or sqlite)")
	flag.StringVar(&dbCfg.DSN, "db-dsn", dbCfg.DSN, "Database connection string")
	flag.DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		glog.Fatalf("Invalid log level %q: %v", logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting form-sync server", "listen", listenAddr, "dbType", dbCfg.Type)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gormDB, err := db.Open(dbCfg)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	templates := forms.NewTemplateStore(gormDB)
	refs := households.NewStore(gormDB)
	receipts := ledger.NewReceiptStore(gormDB)
	submissions := ledger.NewSubmissionStore(gormDB)
	syncLogs := syncer.NewLogStore(gormDB)

	// Routes are served while migrations run so /healthz answers; /readyz
	// stays 503 until SetReady.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	extractor, err := authz.NewExtractor(authz.ConfigFromEnv(), logger)
	if err != nil {
		glog.Fatalf("Failed to configure authentication: %v", err)
	}

	client := platform.NewHTTPClient(platform.ClientConfigFromEnv(), logger.With("component", "platform"))
	pipeline := ingest.NewPipeline(templates, receipts, submissions,
		reconcile.NewPolicy(refs, reconcile.ConfigFromEnv()), m, logger.With("component", "ingest"))

	server := &api.Server{
		DB:           gormDB,
		Templates:    templates,
		SyncLogs:     syncLogs,
		Receipts:     receipts,
		Submissions:  submissions,
		Orchestrator: syncer.NewOrchestrator(templates, client, refs, syncLogs, syncer.ConfigFromEnv(), m, logger.With("component", "syncer")),
		Puller:       ingest.NewPuller(templates, client, pipeline, logger.With("component", "pull")),
		Pipeline:     pipeline,
		Webhook:      ingest.WebhookConfigFromEnv(),
		Metrics:      m,
		Gatherer:     reg,
		Extractor:    extractor,
		Logger:       logger,
	}

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "listen", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := db.MigrateAll(gctx, gormDB, dbCfg.MigrationLockEnabled,
			templates, refs, receipts, submissions, syncLogs)
		if err != nil {
			return err
		}
		server.SetReady(true)
		logger.Info("form-sync server ready")
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		server.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		glog.Fatalf("Server error: %v", err)
	}

	if sqlDB, err := gormDB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("form-sync server stopped")
}
