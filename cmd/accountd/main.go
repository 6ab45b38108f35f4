package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/congo-pay/tangle_account/internal/account"
	"github.com/congo-pay/tangle_account/internal/config"
	"github.com/congo-pay/tangle_account/internal/deposit"
	"github.com/congo-pay/tangle_account/internal/infra"
	"github.com/congo-pay/tangle_account/internal/lease"
	"github.com/congo-pay/tangle_account/internal/ledger"
	"github.com/congo-pay/tangle_account/internal/logging"
	"github.com/congo-pay/tangle_account/internal/notification"
	"github.com/congo-pay/tangle_account/internal/routes"
	"github.com/congo-pay/tangle_account/internal/server"
	"github.com/congo-pay/tangle_account/internal/snapshot"
	"github.com/congo-pay/tangle_account/internal/timesrc"
)

const memoryProvider = "memory://"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("accountd exited", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("accountd exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	res, err := infra.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer res.Close()

	client, err := newLedgerClient(cfg)
	if err != nil {
		return err
	}

	var clock timesrc.Source = timesrc.System()
	if cfg.UseNTP() {
		clock = timesrc.NewNTP(cfg.NTPServer, cfg.CallTimeout)
	}

	opts := []account.Option{
		account.WithLogger(logger),
		account.WithNotifier(notification.NewLoggerNotifier(logger)),
		account.WithSendOracle(deposit.NewOracle(deposit.NewTimeDecider(clock, cfg.DepositThreshold))),
	}
	if res.Cache != nil {
		opts = append(opts, account.WithLease(lease.NewRedis(res.Cache, leaseOwner(), cfg.LeaseTTL)))
	}

	acct, err := account.New(account.Settings{
		Seed:               cfg.AccountSeed,
		Provider:           cfg.ProviderURL,
		Depth:              cfg.Depth,
		MinWeightMagnitude: cfg.MinWeightMagnitude,
		Delay:              cfg.ReattachDelay,
		MaxDepth:           cfg.MaxDepth,
		TimeSource:         clock,
		CallTimeout:        cfg.CallTimeout,
		Concurrency:        cfg.TickConcurrency,
	}, client, opts...)
	if err != nil {
		return err
	}

	snaps := snapshot.New(acct, res.Store, logger)
	restored, err := snaps.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	logger.Info("account ready",
		slog.String("account_id", acct.ID()),
		slog.Bool("restored", restored),
		slog.String("state_store", cfg.StateStore),
	)

	if err := acct.Start(ctx); err != nil {
		return err
	}

	snapCtx, stopSnapshots := context.WithCancel(ctx)
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		snaps.Run(snapCtx, cfg.SnapshotInterval)
	}()

	srv, err := server.New(routes.Deps{
		Cfg:       cfg,
		DB:        res.DB,
		Cache:     res.Cache,
		Logger:    logger,
		Account:   acct,
		Snapshots: snaps,
	})
	if err != nil {
		stopSnapshots()
		<-snapDone
		_ = acct.Stop(ctx)
		return fmt.Errorf("build server: %w", err)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen(logger)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case serveErr = <-srvErrCh:
		if serveErr != nil {
			logger.Error("server error", slog.Any("error", serveErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
	if err := acct.Stop(shutdownCtx); err != nil {
		logger.Warn("stop account", slog.Any("error", err))
	}
	stopSnapshots()
	<-snapDone
	if err := snaps.Save(shutdownCtx); err != nil {
		return fmt.Errorf("final snapshot: %w", err)
	}
	return serveErr
}

func newLedgerClient(cfg config.Config) (ledger.Client, error) {
	if strings.HasPrefix(cfg.ProviderURL, memoryProvider) {
		if !isDev(cfg.AppEnv) {
			return nil, fmt.Errorf("the in-memory ledger is only available in development")
		}
		return ledger.NewInMemory(), nil
	}
	return ledger.NewNodeClient(cfg.ProviderURL, ledger.NodeOptions{CallTimeout: cfg.CallTimeout})
}

func leaseOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "accountd"
	}
	return host + "-" + uuid.NewString()
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
