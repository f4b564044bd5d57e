package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/PastorStudio/geminiaicrm-sub003/internal/accounts"
	apiPkg "github.com/PastorStudio/geminiaicrm-sub003/internal/api"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/assign"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/clock"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/config"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/events"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/logbuf"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/orchestrator"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/responder"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/store"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := logbuf.ParseLevel(cfg.LogLevel)
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	logger.Info("crmd starting", "data_dir", cfg.DataDir)

	os.MkdirAll(cfg.DataDir, 0o755)
	st, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		logger.Error("failed to open store", "path", cfg.DatabasePath(), "error", err)
		os.Exit(1)
	}

	clk := clock.System()

	gateway := transport.NewHTTPClient(cfg.Gateway.URL, transport.WithToken(cfg.Gateway.Token))
	generator := responder.NewHTTPClient(cfg.Responder.URL, responder.WithAPIKey(cfg.Responder.APIKey))

	bus := events.NewBus(logger.With("component", "events"))
	if cfg.Events.URL != "" {
		pub, err := events.NewAMQPPublisher(cfg.Events.URL, cfg.Events.Exchange, logger.With("component", "amqp"))
		if err != nil {
			logger.Error("failed to connect event broker", "url", cfg.Events.URL, "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		bus.Attach(pub)
		logger.Info("event publisher attached", "exchange", cfg.Events.Exchange)
	}

	engine := assign.NewEngine(st, st, clk, logger.With("component", "assign"))
	engine.BindEvents(bus)
	accountSvc := accounts.NewService(st, logger.With("component", "accounts"))

	guard := orchestrator.NewGuard()
	pipeline := orchestrator.NewPipeline(gateway, generator, st, guard, bus, clk,
		orchestrator.PipelineConfig{}, logger.With("component", "pipeline"))
	orch := orchestrator.New(accountSvc, gateway, pipeline, guard, st, clk,
		cfg.PollInterval(), logger.With("component", "monitor"))
	accountSvc.BindMonitors(orch)

	apiSrv := apiPkg.NewServer(engine, accountSvc, st, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"), logBuf)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Start(ctx) })
	g.Go(func() error { return apiSrv.Start(ctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("crmd failed", "error", err)
		bus.Close()
		os.Exit(1)
	}
	bus.Close()
	logger.Info("crmd stopped")
}
