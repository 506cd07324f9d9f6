// custodia keeps documents provably intact: an append-only evidence log per
// document, a decision engine that computes the protection jobs still owed,
// and state machines that see blockchain anchors through to confirmation.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"custodia/internal/anchors"
	"custodia/internal/anchors/bitcoin"
	"custodia/internal/anchors/polygon"
	"custodia/internal/artifact"
	"custodia/internal/document"
	"custodia/internal/jobs"
	"custodia/internal/orchestrator"
	"custodia/internal/platform/config"
	"custodia/internal/platform/database"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/kafka"
	"custodia/internal/platform/logger"
	platformredis "custodia/internal/platform/redis"
	"custodia/internal/transport/http"
	"custodia/internal/tsa"
	"custodia/internal/workflow"
	workflowservice "custodia/internal/workflow/service"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	// Stores: Postgres when configured, in-memory otherwise.
	var (
		documentStore document.Store
		jobStore      jobs.Store
		anchorStore   anchors.Store
		workflowStore workflow.Store
	)
	if cfg.Database.URL != "" {
		db, err := database.Open(ctx, cfg.Database.URL)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := database.EnsureSchema(ctx, db); err != nil {
			log.Error("schema setup failed", "error", err)
			os.Exit(1)
		}
		documentStore = document.NewPostgresStore(db)
		jobStore = jobs.NewPostgresStore(db)
		anchorStore = anchors.NewPostgresStore(db)
		workflowStore = workflow.NewPostgresStore(db)
		log.Info("using postgres stores")
	} else {
		documentStore = document.NewInMemoryStore()
		jobStore = jobs.NewInMemoryStore()
		anchorStore = anchors.NewInMemoryStore()
		workflowStore = workflow.NewInMemoryStore()
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	// Optional event mirror.
	var mirror document.MirrorPublisher
	if producer, err := kafka.New(ctx, cfg.Kafka); err != nil {
		log.Warn("kafka mirror disabled", "error", err)
	} else if producer != nil {
		defer producer.Close()
		mirror = producer
	}

	documents := document.NewService(documentStore, mirror, log)
	reconciler := orchestrator.NewReconciler(documents, jobStore, log)

	// Anchor submitters. Networks without credentials stay unconfigured and
	// their submit jobs fail retryably until operators supply them.
	submitters := make(map[document.Network]anchors.Submitter)
	var polygonRPC polygon.RPC
	if cfg.Polygon.RPCURL != "" {
		client, err := ethclient.DialContext(ctx, cfg.Polygon.RPCURL)
		if err != nil {
			log.Error("polygon rpc dial failed", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		polygonRPC = client
		if cfg.Polygon.PrivateKey != "" {
			submitter, err := polygon.NewSubmitter(client, cfg.Polygon.PrivateKey)
			if err != nil {
				log.Error("polygon submitter setup failed", "error", err)
				os.Exit(1)
			}
			submitters[document.NetworkPolygon] = submitter
		}
	}
	calendars := bitcoin.NewCalendarClient(cfg.Bitcoin.CalendarURLs, log)
	submitters[document.NetworkBitcoin] = calendars

	anchorService := anchors.NewService(anchorStore, documents, submitters,
		map[document.Network]int{
			document.NetworkPolygon: cfg.Polygon.MaxAttempts,
			document.NetworkBitcoin: cfg.Bitcoin.MaxAttempts,
		}, log)

	// Pollers.
	polygonPoller := polygon.NewPoller(anchorStore, documents, polygonRPC, cfg.Polygon.MaxAttempts, log)
	explorer := bitcoin.NewExplorerClient(cfg.Bitcoin.ExplorerURL)
	bitcoinPoller := bitcoin.NewPoller(anchorStore, documents, calendars, explorer,
		cfg.Bitcoin.MaxAttempts, cfg.Bitcoin.WarnThreshold, log)

	// Poll lock (optional Redis).
	var pollLock *anchors.PollLock
	if redisClient, err := platformredis.New(cfg.Redis); err != nil {
		log.Warn("redis poll lock disabled", "error", err)
	} else if redisClient != nil {
		defer redisClient.Close()
		pollLock = anchors.NewPollLock(redisClient.Client, 2*time.Minute)
	}

	// Orchestrator.
	pipeline := orchestrator.NewPipeline(documents, anchorService,
		tsa.NewClient(cfg.TSA.URL), artifact.NewBuilder(artifact.NewMemoryBlobStore()),
		reconciler, log)
	runner := orchestrator.New(jobStore, pipeline.Handlers(), orchestrator.Options{
		PoolSize:          cfg.Worker.PoolSize,
		ClaimBatch:        cfg.Worker.ClaimBatch,
		LeaseTTL:          cfg.Worker.LeaseTTL,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	}, log)

	workflows := workflowservice.New(workflowStore, documents, nil, log)

	handler := httptransport.NewHandler(documents, workflows, reconciler, runner,
		jobStore, polygonPoller, bitcoinPoller, pollLock,
		httptransport.AuthConfig{
			JWTSigningKey: cfg.Auth.JWTSigningKey,
			CronSecret:    cfg.Auth.CronSecret,
		}, log)
	router := httptransport.NewRouter(handler)

	srv := httpserver.New(cfg.Server.Addr, router)
	log.Info("starting custodia", "addr", cfg.Server.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
