package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	composer "github.com/SashaZezulinsky/cellframe-composer"
	"github.com/SashaZezulinsky/cellframe-composer/config"
	"github.com/SashaZezulinsky/cellframe-composer/ledger"
	"github.com/SashaZezulinsky/cellframe-composer/wallet"
)

const version = "1.0.0"

var (
	// Global flags
	configPath  string
	walletSeed  string
	metricsFile string

	cfg         *config.Config
	logger      *zap.Logger
	closeLedger func() error
	comp        *composer.Composer
	registry    = prometheus.NewRegistry()
)

var rootCmd = &cobra.Command{
	Use:           "cf-composer",
	Short:         "Cellframe transaction composer",
	Long:          "Composes transfers, stake locks, exchange orders, votings, delegations and service payments, alone or in batches.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return setup(cmd.Context())
	},
}

func setup(ctx context.Context) error {
	var err error
	if cfg, err = config.Load(configPath); err != nil {
		return err
	}
	if logger, err = config.NewLogger(cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	var l ledger.Ledger
	if l, closeLedger, err = cfg.OpenLedger(ctx, logger); err != nil {
		return err
	}

	signer, err := wallet.NewKeySignerFromSeed([]byte(walletSeed), cfg.Network.Name)
	if err != nil {
		return err
	}
	comp, err = composer.New(cfg.ComposeConfig(), signer, l,
		composer.WithLogger(logger),
		composer.WithFeeSchedule(cfg.FeeSchedule()),
		composer.WithMetrics(composer.NewMetrics(registry)),
	)
	return err
}

func teardown() {
	if comp != nil {
		_ = comp.Close()
		writeMetrics()
	}
	if closeLedger != nil {
		_ = closeLedger()
	}
	if logger != nil {
		_ = logger.Sync()
	}
}

// writeMetrics dumps the run's metrics in the text exposition format for a
// node_exporter textfile collector.
func writeMetrics() {
	if metricsFile == "" {
		return
	}
	if err := prometheus.WriteToTextfile(metricsFile, registry); err != nil && logger != nil {
		logger.Warn("failed to write metrics", zap.String("file", metricsFile), zap.Error(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write composition metrics to this file on exit")
	rootCmd.PersistentFlags().StringVar(&walletSeed, "wallet-seed", envOr("CFCOMPOSER_WALLET_SEED", "cf-composer"), "seed the wallet key is derived from")

	rootCmd.AddCommand(
		versionCmd,
		transferCmd,
		estimateFeeCmd,
		optimizeFeeCmd,
		stakeLockCmd,
		penaltiesCmd,
		batchCmd,
		templatesCmd,
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	teardown()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
