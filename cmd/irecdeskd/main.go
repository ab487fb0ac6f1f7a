package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/verdantgrid/irecdesk/internal/chain"
	"github.com/verdantgrid/irecdesk/internal/config"
	"github.com/verdantgrid/irecdesk/internal/logging"
	"github.com/verdantgrid/irecdesk/internal/market"
	"github.com/verdantgrid/irecdesk/internal/namestore"
	"github.com/verdantgrid/irecdesk/internal/observability/metrics"
	"github.com/verdantgrid/irecdesk/internal/perm"
	"github.com/verdantgrid/irecdesk/internal/projects"
	"github.com/verdantgrid/irecdesk/internal/roles"
	"github.com/verdantgrid/irecdesk/internal/server"
	"github.com/verdantgrid/irecdesk/internal/state"
	"github.com/verdantgrid/irecdesk/internal/txflow"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "irecdeskd",
		Short:   "IREC certificate platform transaction orchestration daemon",
		Version: version,
	}
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe()
	}
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	})
	return rootCmd
}

func runServe() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.New(cfg.Logging)
	metrics.Init(cfg.Server.MetricsEnabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID)
	if err != nil {
		return err
	}
	logger.Info("connected", "rpc", cfg.Chain.RPCURL, "chain_id", client.ChainID.String())

	names, err := namestore.Open(cfg.Store.SQLitePath, logger)
	if err != nil {
		return err
	}
	defer names.Close()

	engine := perm.Engine{InitialSuperAdmin: cfg.InitialSuperAdminAddr()}
	store := state.NewStore(cfg.Market.RefreshPerMinute)
	defer store.Close()

	refresher := &state.Refresher{
		Reader:   client.Backend,
		Registry: addr(cfg.Chain.RegistryAddress),
		Market:   addr(cfg.Chain.MarketAddress),
		Perm:     engine,
		Names:    names,
		Logger:   logger,
	}

	pipeline := &txflow.Pipeline{
		Submitter: &txflow.Submitter{
			Backend:      client.Backend,
			RPC:          client.RPC,
			ChainID:      client.ChainID,
			Source:       chain.KeySource(cfg.Chain.SignerKeyHex),
			TipGwei:      cfg.Tx.TipGwei,
			BasefeeMul:   cfg.Tx.BasefeeMul,
			GasBufferPct: cfg.Tx.GasBufferPct,
			Logger:       logger,
		},
		Tracker: &txflow.Tracker{Reader: client.Backend, Logger: logger},
		Opts: txflow.TrackOptions{
			Confirmations: cfg.Tx.Confirmations,
			PollInterval:  cfg.Tx.PollInterval,
			Timeout:       cfg.Tx.ReceiptTimeout,
		},
		Logger: logger,
	}
	guard := txflow.NewGuard()

	deps := server.Deps{
		Perm:      engine,
		Store:     store,
		Refresher: refresher,
		Roles: &roles.Orchestrator{
			Perm: engine, Pipeline: pipeline, Refresher: refresher,
			Store: store, Guard: guard, Names: names,
			Registry: addr(cfg.Chain.RegistryAddress), Logger: logger,
		},
		Projects: &projects.Orchestrator{
			Perm: engine, Pipeline: pipeline, Refresher: refresher,
			Store: store, Guard: guard,
			Registry: addr(cfg.Chain.RegistryAddress), Logger: logger,
		},
		Market: &market.Orchestrator{
			Pipeline: pipeline, Refresher: refresher, Store: store, Guard: guard,
			Market:  addr(cfg.Chain.MarketAddress),
			FeeBps:  cfg.Market.PlatformFeeBps,
			MinUnit: cfg.Market.MinEnergyPerFraction,
			Logger:  logger,
		},
	}

	// Best-effort warm snapshot; the first /snapshot request retries anyway.
	if snap, err := refresher.Refresh(ctx); err == nil {
		store.SetSnapshot(snap)
		metrics.RecordRefresh("ok")
	} else {
		logger.Warn("initial snapshot unavailable", "err", err)
		metrics.RecordRefresh("error")
	}

	srv := server.New(cfg, deps, logger)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpSrv.Addr)
		errc <- httpSrv.ListenAndServe()
	}()

	if cfg.Server.MetricsEnabled {
		go func() {
			metricsSrv := &http.Server{
				Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port+1),
				Handler:           srv.MetricsHandler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			logger.Info("metrics listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", "err", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	// The store stops committing first so trackers finishing during
	// shutdown cannot apply state after teardown.
	store.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func addr(s string) common.Address {
	return common.HexToAddress(s)
}
