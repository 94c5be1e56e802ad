package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dmarquardt/condorkeeper/internal/broker"
	"github.com/dmarquardt/condorkeeper/internal/config"
	"github.com/dmarquardt/condorkeeper/internal/correlation"
	"github.com/dmarquardt/condorkeeper/internal/dashboard"
	"github.com/dmarquardt/condorkeeper/internal/greeks"
	"github.com/dmarquardt/condorkeeper/internal/lifecycle"
	"github.com/dmarquardt/condorkeeper/internal/liquidity"
	"github.com/dmarquardt/condorkeeper/internal/notify"
	"github.com/dmarquardt/condorkeeper/internal/orders"
	"github.com/dmarquardt/condorkeeper/internal/rolling"
	"github.com/dmarquardt/condorkeeper/internal/spread"
	"github.com/dmarquardt/condorkeeper/internal/storage"
	"github.com/dmarquardt/condorkeeper/internal/volatility"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Environment)
	logger.WithFields(logrus.Fields{
		"mode":         cfg.Environment.Mode,
		"auto_execute": cfg.Environment.AutoExecute,
		"underlyings":  cfg.Spread.Underlyings,
	}).Info("starting condorkeeper")

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("engine stopped with error")
	}
	logger.Info("engine stopped")
}

func newLogger(env config.EnvironmentConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(env.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if env.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func newBroker(cfg *config.Config, logger *logrus.Logger) (broker.Broker, error) {
	switch cfg.Broker.Provider {
	case "sandbox":
		seed := uint64(time.Now().UnixNano()) // #nosec G115 -- seed wraps harmlessly
		return broker.NewCircuitBreakerBroker(broker.NewSandbox(seed), logger), nil
	default:
		return nil, fmt.Errorf("broker provider %q is not bundled in this build", cfg.Broker.Provider)
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	market, err := newBroker(cfg, logger)
	if err != nil {
		return err
	}

	balance, err := market.GetAccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("verifying venue connection: %w", err)
	}
	logger.WithField("balance", balance).Info("connected to venue")

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening position store: %w", err)
	}

	agg := greeks.NewAggregator(cfg.Greeks)
	bot := &Bot{
		cfg:         cfg,
		logger:      logger,
		market:      market,
		store:       store,
		lifecycle:   lifecycle.NewManager(cfg.Risk, store, market, logger),
		analyzer:    volatility.NewAnalyzer(cfg.Volatility, cfg.Flow),
		correlation: correlation.NewFilter(cfg.Correlation),
		liquidity:   liquidity.NewFilter(cfg.Liquidity),
		greeks:      agg,
		builder:     spread.NewBuilder(cfg.Spread, market, logger),
		roller:      rolling.NewEngine(cfg.Rolling, cfg.Risk.MinDTEExit, logger),
		executor:    orders.NewExecutor(market, orders.DefaultConfig, logger),
		notifier:    notify.New(cfg.Notifications, logger),
		lastRegime:  make(map[string]volatility.Regime),
	}
	bot.restoreGreeks(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.scanLoop(gctx) })
	g.Go(func() error { return bot.monitorLoop(gctx) })

	if cfg.Dashboard.Enabled {
		srv := dashboard.NewServer(cfg.Dashboard, store, agg, market, logger)
		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("dashboard server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	// Persist whatever the last pass left in memory before exiting.
	if saveErr := store.Save(); saveErr != nil {
		logger.WithError(saveErr).Warn("final state save failed")
	}
	return err
}
