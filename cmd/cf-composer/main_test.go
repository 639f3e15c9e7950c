package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SashaZezulinsky/cellframe-composer/config"
)

func TestTeardownWritesMetrics(t *testing.T) {
	t.Setenv(config.EnvLedgerMode, config.LedgerMemory)
	configPath, walletSeed = "", "cli-test"
	metricsFile = filepath.Join(t.TempDir(), "cf-composer.prom")
	t.Cleanup(func() {
		metricsFile = ""
		comp, closeLedger, logger = nil, nil, nil
	})

	require.NoError(t, setup(context.Background()))
	_, err := comp.CreateTx(context.Background(), comp.Address(), decimal.NewFromInt(1), comp.NativeTicker(), decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	teardown()

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `cfcomposer_compositions_total{result="ok",type="regular"} 1`)
}
