package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/antigravity-lab/antigravity/internal/config"
	"github.com/antigravity-lab/antigravity/internal/engine"
	"github.com/antigravity-lab/antigravity/internal/execution"
	"github.com/antigravity-lab/antigravity/internal/logger"
	"github.com/antigravity-lab/antigravity/internal/marketdata"
	"github.com/antigravity-lab/antigravity/internal/server"
	"github.com/antigravity-lab/antigravity/internal/types"
)

func main() {
	cmd := &cli.Command{
		Name:  "antigravity",
		Usage: "RSI mean-reversion trading bot for Binance spot markets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   "antigravity.yaml",
			},
			&cli.StringFlag{
				Name:  "instrument",
				Usage: "Override the traded instrument, e.g. BTCUSDT",
			},
			&cli.BoolFlag{
				Name:  "simulate",
				Usage: "Force the simulated wallet backend regardless of config",
			},
			&cli.DurationFlag{
				Name:  "tick-interval",
				Usage: "Override the decision loop poll cadence",
			},
			&cli.StringFlag{
				Name:  "replay",
				Usage: "Replay a YAML price list instead of live market data (forces the simulated backend)",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Control surface listen address (status, commands, metrics, event stream)",
				Value: ":8936",
			},
		},
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:   "schema",
				Usage:  "Print the configuration JSON schema",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func schemaAction(_ context.Context, _ *cli.Command) error {
	schema, err := config.Schema()
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	if v := cmd.String("instrument"); v != "" {
		cfg.TargetInstrument = v
	}

	if cmd.Bool("simulate") {
		cfg.Simulate = true
	}

	if v := cmd.Duration("tick-interval"); v > 0 {
		cfg.TickInterval = config.Duration(v)
	}

	if cmd.String("replay") != "" {
		cfg.Simulate = true
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	zapLogger, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer zapLogger.Sync()

	mode := types.EngineModeLive
	if cfg.Simulate {
		mode = types.EngineModeSimulated
	}

	var source marketdata.Source = marketdata.NewBinanceSource("", cfg.CallTimeout.Std())

	if path := cmd.String("replay"); path != "" {
		prices, err := marketdata.LoadScript(path)
		if err != nil {
			return err
		}

		zapLogger.Info("replaying scripted prices",
			zap.String("script", path),
			zap.Int("prices", len(prices)),
		)

		source = marketdata.NewScriptedSource(prices, time.Now(), cfg.TickInterval.Std())
	}

	backend, err := execution.NewBackend(mode, execution.BinanceConfig{
		ApiKey:      cfg.ApiKey,
		SecretKey:   cfg.ApiSecret,
		UseTestnet:  cfg.UseTestnet,
		BaseAsset:   cfg.BaseAsset,
		QuoteAsset:  cfg.QuoteAsset,
		CallTimeout: cfg.CallTimeout.Std(),
	}, source, cfg.SimSeedQuote)
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.Options{
		Instrument:         cfg.TargetInstrument,
		Mode:               mode,
		Source:             source,
		Backend:            backend,
		Strategy:           cfg.Strategy,
		TickInterval:       cfg.TickInterval.Std(),
		Logger:             zapLogger,
		MinHoldingNotional: cfg.MinHoldingNotional,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cmd.String("listen"), eng, zapLogger)

	zapLogger.Info("starting engine",
		zap.String("instrument", cfg.TargetInstrument),
		zap.String("mode", string(mode)),
		zap.Duration("tick_interval", cfg.TickInterval.Std()),
		zap.String("listen", cmd.String("listen")),
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return eng.Run(groupCtx)
	})

	group.Go(func() error {
		return srv.Run(groupCtx)
	})

	group.Go(func() error {
		drainEvents(eng, srv, zapLogger)

		return nil
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	zapLogger.Info("engine stopped")

	return nil
}

// drainEvents forwards the engine feed to the log and the control surface.
// It returns when the engine closes its event channel.
func drainEvents(eng *engine.Engine, srv *server.Server, zapLogger *logger.Logger) {
	for event := range eng.Events() {
		srv.Publish(event)
		logEvent(zapLogger, event)
	}
}

func logEvent(zapLogger *logger.Logger, event types.Event) {
	simulated := zap.Bool("simulated", event.IsSimulated())

	switch ev := event.(type) {
	case types.EntryEvent:
		zapLogger.Info("position opened", simulated,
			zap.Float64("price", ev.Price),
			zap.Float64("quantity", ev.Quantity),
		)
	case types.ExitEvent:
		zapLogger.Info("position closed", simulated,
			zap.String("reason", string(ev.Reason)),
			zap.Float64("price", ev.Price),
			zap.Float64("pnl_pct", ev.PnLPct),
		)
	case types.StatusEvent:
		fields := []zap.Field{
			simulated,
			zap.String("state", string(ev.State)),
			zap.Float64("price", ev.Price),
			zap.Float64("rsi", ev.Indicator),
			zap.Float64("total_asset", ev.TotalAsset),
		}
		if pnl, err := ev.PnLPct.Take(); err == nil {
			fields = append(fields, zap.Float64("pnl_pct", pnl))
		}

		zapLogger.Info(ev.Message, fields...)
	case types.ErrorEvent:
		zapLogger.Error(ev.Message, simulated, zap.Int("code", int(ev.Code)))
	default:
		zapLogger.Info("event", simulated, zap.Time("time", event.EventTime()))
	}
}
