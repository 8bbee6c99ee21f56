package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/timberline/internal/agent"
	"github.com/nidhogg/timberline/internal/api"
	"github.com/nidhogg/timberline/internal/config"
	"github.com/nidhogg/timberline/internal/ledger"
	"github.com/nidhogg/timberline/internal/logging"
	"github.com/nidhogg/timberline/internal/market"
	"github.com/nidhogg/timberline/internal/memory"
	"github.com/nidhogg/timberline/internal/provider"
	"github.com/nidhogg/timberline/internal/report"
	"github.com/nidhogg/timberline/internal/sim"
	"github.com/nidhogg/timberline/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/timberline.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Timberline", zap.String("config", cfgPath))

	// Reasoning oracle providers
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey, Model: pc.Model,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		}
	}

	// Ledger: CSV audit record, optional PostgreSQL mirror
	led, err := ledger.Open(cfg.Simulation.LedgerPath, logger)
	if err != nil {
		logger.Fatal("open ledger", zap.Error(err))
	}
	defer led.Close()

	var mirror *store.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := store.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without mirror", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background()); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			mirror = ps
			led.SetMirror(ps)
			defer ps.Close()
		}
	}

	// Market engine over the offer book and ledger
	book := market.NewBook(logger)
	engine := market.NewEngine(book, led, cfg.Market.AvgPriceWindow, logger)

	// Roster: personas as data, one shell implementation
	roster, err := agent.LoadRoster(cfg.RosterPath)
	if err != nil {
		logger.Fatal("load roster", zap.Error(err))
	}
	shells := make([]*agent.Shell, 0, len(roster))
	for _, p := range roster {
		engine.RegisterAgent(p.ID, p.Budget, p.Inventory)
		if p.Provider != "" {
			router.Bind(p.ID, p.Provider)
		}
		mem := memory.NewStore(p.ID, cfg.Memory.Capacity, logger)
		mem.SetDecay(cfg.Memory.Decay)
		shells = append(shells, agent.NewShell(
			p, engine, router, mem,
			cfg.OracleTimeout(), cfg.Memory.TopK, logger))
	}
	logger.Info("Roster loaded", zap.Int("agents", len(shells)))

	// Optional read-only inspection API
	var srv *http.Server
	if cfg.Server.Port > 0 {
		handler := api.NewHandler(engine, led, logger)
		srv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: handler.Router(),
		}
		go func() {
			logger.Info("Inspection API listening", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				logger.Fatal("server error", zap.Error(err))
			}
		}()
	}

	// Run the simulation; SIGINT/SIGTERM cancels between turns.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := sim.NewRunner(engine, led, shells, sim.Options{
		TotalTicks:      cfg.Simulation.TotalTicks,
		Pacing:          cfg.Pacing(),
		ShuffleEachTick: cfg.Simulation.ShuffleEachTick,
		Seed:            cfg.Simulation.Seed,
		SnapshotPath:    cfg.Simulation.SnapshotPath,
	}, logger)
	if mirror != nil {
		runner.SetSnapshotSink(mirror)
	}

	if err := runner.Run(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info("Simulation interrupted")
		} else {
			logger.Fatal("simulation failed", zap.Error(err))
		}
	}

	summary := report.Summarize(led.All())
	logger.Info("Simulation complete",
		zap.Int("trades", summary.TotalTrades),
		zap.Int64("volume", summary.TotalVolume),
		zap.String("total_value", summary.TotalValue.String()),
		zap.String("vwap", summary.VWAP.String()))

	if srv != nil {
		_ = srv.Shutdown(context.Background())
	}
}
