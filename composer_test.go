package composer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SashaZezulinsky/cellframe-composer/ledger"
	"github.com/SashaZezulinsky/cellframe-composer/wallet"
)

var testNow = time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Helper function to create a signer from a seed string
func createTestSigner(t *testing.T, seed string) *wallet.KeySigner {
	t.Helper()
	s, err := wallet.NewKeySignerFromSeed([]byte(seed), "mainnet")
	require.NoError(t, err)
	return s
}

// Helper function to create a composer over a fresh memory ledger
func createTestComposer(t *testing.T, opts ...ledger.MemoryOption) (*Composer, *ledger.Memory) {
	t.Helper()
	mem := ledger.NewMemory(append([]ledger.MemoryOption{ledger.WithMemoryClock(fixedClock)}, opts...)...)
	c, err := New(NewComposeConfig("mainnet", "http://127.0.0.1", 8079, ""),
		createTestSigner(t, "composer-wallet"), mem, WithClock(fixedClock))
	require.NoError(t, err)
	return c, mem
}

func createTestInputs(token string, values ...string) []TransactionInput {
	out := make([]TransactionInput, 0, len(values))
	for i, v := range values {
		out = append(out, TransactionInput{
			TxHash:      "input",
			OutputIndex: uint32(i),
			Value:       d(v),
			Token:       token,
		})
	}
	return out
}

func lastSubmitted(t *testing.T, mem *ledger.Memory) *ledger.SignedTx {
	t.Helper()
	txs := mem.Submitted()
	require.NotEmpty(t, txs)
	return txs[len(txs)-1]
}

func outputTypes(tx *Transaction) []OutputType {
	types := make([]OutputType, 0, len(tx.Outputs))
	for _, o := range tx.Outputs {
		types = append(types, o.Type)
	}
	return types
}

// assertConserved checks inputs and outputs balance for every token
func assertConserved(t *testing.T, tx *Transaction) {
	t.Helper()
	balance := map[string]decimal.Decimal{}
	for _, in := range tx.Inputs {
		balance[in.Token] = balance[in.Token].Add(in.Value)
	}
	for _, out := range tx.Outputs {
		balance[out.Token] = balance[out.Token].Sub(out.Value)
	}
	for token, b := range balance {
		assert.True(t, b.IsZero(), "token %s imbalance %s", token, b)
	}
}

func TestNewValidatesArguments(t *testing.T) {
	mem := ledger.NewMemory()
	signer := createTestSigner(t, "w")

	_, err := New(ComposeConfig{}, signer, mem)
	require.Error(t, err)
	_, err = New(NewComposeConfig("mainnet", "", 0, ""), nil, mem)
	require.Error(t, err)
	_, err = New(NewComposeConfig("mainnet", "", 0, ""), signer, nil)
	require.Error(t, err)

	c, err := New(NewComposeConfig("mainnet", "", 0, "/etc/cert.pem"), signer, mem)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), c.Address())
	assert.True(t, c.Config().Encrypted)
	assert.Equal(t, "CELL", c.NativeTicker())
}

func TestCalculateFees(t *testing.T) {
	c, mem := createTestComposer(t)
	ctx := context.Background()

	// Static schedule when the ledger has no quote
	fee, err := c.CalculateFees(ctx, "CELL", d("0.01"))
	require.NoError(t, err)
	assert.True(t, fee.NetworkFee.Equal(d("0.001")))
	assert.True(t, fee.TotalFee.Equal(d("0.011")))

	// Live quote wins
	mem.SetNetworkFee("CELL", ledger.FeeQuote{Fee: d("0.002"), Address: "fee-collector"})
	fee, err = c.CalculateFees(ctx, "CELL", d("0.01"))
	require.NoError(t, err)
	assert.True(t, fee.TotalFee.Equal(d("0.012")))
	assert.Equal(t, "fee-collector", fee.FeeAddress)

	_, err = c.CalculateFees(ctx, "", d("0.01"))
	assert.ErrorIs(t, err, ErrInvalidTicker)
	_, err = c.CalculateFees(ctx, "CELL", d("-1"))
	assert.ErrorIs(t, err, ErrFeeCalculation)
}

func TestSelectInputsGreedyPrefix(t *testing.T) {
	c, _ := createTestComposer(t)

	selected, total, err := c.SelectInputs(context.Background(), d("25"), "CELL",
		createTestInputs("CELL", "10", "10", "10"))
	require.NoError(t, err)
	assert.Len(t, selected, 3)
	assert.True(t, total.Equal(d("30")), "got %s", total)
}

func TestSelectInputsOrder(t *testing.T) {
	c, _ := createTestComposer(t)

	selected, total, err := c.SelectInputs(context.Background(), d("12"), "CELL",
		createTestInputs("CELL", "3", "9", "5", "1"))
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.True(t, selected[0].Value.Equal(d("9")))
	assert.True(t, selected[1].Value.Equal(d("5")))
	assert.True(t, total.Equal(d("14")))
}

func TestSelectInputsInsufficient(t *testing.T) {
	c, _ := createTestComposer(t)

	_, _, err := c.SelectInputs(context.Background(), d("100"), "CELL",
		createTestInputs("CELL", "10", "20"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	var ce *ComposeError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.Required.Equal(d("100")))
	assert.True(t, ce.Available.Equal(d("30")))
	assert.Equal(t, "CELL", ce.Token)

	// Other tokens are not candidates
	_, _, err = c.SelectInputs(context.Background(), d("5"), "CELL", createTestInputs("USDT", "10"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestCreateTxNativeOutputs(t *testing.T) {
	c, mem := createTestComposer(t)
	to := createTestSigner(t, "recipient").Address()

	tx, err := c.ComposeTx(context.Background(), to, d("5"), "CELL", d("0.01"))
	require.NoError(t, err)

	assert.Equal(t, []OutputType{OutputRegular, OutputFee, OutputValidatorFee, OutputCoinBack}, outputTypes(tx))
	assert.Equal(t, to, tx.Outputs[0].Address)
	assert.True(t, tx.Outputs[0].Value.Equal(d("5")))
	assert.True(t, tx.Outputs[1].Value.Equal(d("0.001")))
	assert.True(t, tx.Outputs[2].Value.Equal(d("0.01")))
	// Largest synthetic output (12) covers 5.011
	require.Len(t, tx.Inputs, 1)
	assert.True(t, tx.Outputs[3].Value.Equal(d("6.989")))
	assert.Equal(t, c.Address(), tx.Outputs[3].Address)
	assertConserved(t, tx)

	assert.Equal(t, tx.Hash, lastSubmitted(t, mem).Hash)
	assert.NotEmpty(t, tx.Signature)
}

func TestCreateTxDualChannel(t *testing.T) {
	c, _ := createTestComposer(t)
	to := createTestSigner(t, "recipient").Address()

	tx, err := c.ComposeTx(context.Background(), to, d("5"), "USDT", d("0.01"))
	require.NoError(t, err)

	assert.Equal(t, []OutputType{
		OutputRegular, OutputFee, OutputValidatorFee, OutputCoinBack, OutputCoinBack,
	}, outputTypes(tx))
	assert.Equal(t, "USDT", tx.Outputs[0].Token)
	assert.Equal(t, "CELL", tx.Outputs[1].Token)
	assert.Equal(t, "CELL", tx.Outputs[2].Token)
	// Transfer token change first, then native fee change
	assert.Equal(t, "USDT", tx.Outputs[3].Token)
	assert.True(t, tx.Outputs[3].Value.Equal(d("7")))
	assert.Equal(t, "CELL", tx.Outputs[4].Token)
	assert.True(t, tx.Outputs[4].Value.Equal(d("11.989")))
	assertConserved(t, tx)
}

func TestCreateTxConservation(t *testing.T) {
	to := createTestSigner(t, "recipient").Address()
	tests := []struct {
		name   string
		amount string
		token  string
		fee    string
	}{
		{name: "native exact change", amount: "11.989", token: "CELL", fee: "0.01"},
		{name: "native several inputs", amount: "30", token: "CELL", fee: "0.05"},
		{name: "foreign token", amount: "21", token: "KEL", fee: "0.01"},
		{name: "zero validator fee", amount: "1", token: "CELL", fee: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := createTestComposer(t)
			tx, err := c.ComposeTx(context.Background(), to, d(tt.amount), tt.token, d(tt.fee))
			require.NoError(t, err)
			assertConserved(t, tx)
		})
	}
}

func TestCreateTxSpendsChange(t *testing.T) {
	c, mem := createTestComposer(t, ledger.WithoutSyntheticOutputs())
	mem.Fund(c.Address(), "CELL", d("10"))
	to := createTestSigner(t, "recipient").Address()
	ctx := context.Background()

	_, err := c.CreateTx(ctx, to, d("4"), "CELL", d("0.01"))
	require.NoError(t, err)
	// Only the 5.989 change is left
	_, err = c.CreateTx(ctx, to, d("5"), "CELL", d("0.01"))
	require.NoError(t, err)
	_, err = c.CreateTx(ctx, to, d("5"), "CELL", d("0.01"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestCreateTxRejectsInvalid(t *testing.T) {
	c, _ := createTestComposer(t)
	ctx := context.Background()
	to := createTestSigner(t, "recipient").Address()

	_, err := c.CreateTx(ctx, to, d("0"), "CELL", d("0.01"))
	assert.ErrorIs(t, err, ErrOutputCreation)
	_, err = c.CreateTx(ctx, "not-an-address", d("1"), "CELL", d("0.01"))
	assert.ErrorIs(t, err, ErrOutputCreation)
	_, err = c.CreateTx(ctx, to, d("1"), "", d("0.01"))
	assert.ErrorIs(t, err, ErrInvalidTicker)
	_, err = c.CreateTx(ctx, to, d("1000"), "CELL", d("0.01"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.ErrorIs(t, err, ErrComposition)
}

func TestTransactionDeterminism(t *testing.T) {
	to := createTestSigner(t, "recipient").Address()

	// Build the transaction 100 times
	var hashes []string
	for i := 0; i < 100; i++ {
		c, _ := createTestComposer(t)
		tx, err := c.ComposeTx(context.Background(), to, d("7.5"), "USDT", d("0.02"))
		require.NoError(t, err)
		hashes = append(hashes, tx.Hash)
	}

	// Verify all hashes are identical
	first := hashes[0]
	for i, h := range hashes {
		assert.Equal(t, first, h, "Transaction %d has different hash", i)
	}
	t.Logf("Determinism verified: all 100 transactions have hash: %s", first)
}

func TestEstimateFeeDeterminism(t *testing.T) {
	c, _ := createTestComposer(t)
	ctx := context.Background()

	first, err := c.EstimateFee(ctx, TxStakeLock, d("100"), "CELL")
	require.NoError(t, err)
	// 0.01 * 1.2 + 0.001
	assert.True(t, first.ValidatorFee.Equal(d("0.012")))
	assert.True(t, first.TotalFee.Equal(d("0.013")))

	for i := 0; i < 10; i++ {
		again, err := c.EstimateFee(ctx, TxStakeLock, d("100"), "CELL")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestClosedComposer(t *testing.T) {
	c, _ := createTestComposer(t)
	require.NoError(t, c.Close())

	_, err := c.CreateTx(context.Background(), createTestSigner(t, "r").Address(), d("1"), "CELL", d("0.01"))
	assert.ErrorIs(t, err, ErrComposerClosed)
}

func TestGetAvailableOutputs(t *testing.T) {
	c, mem := createTestComposer(t)
	mem.Fund(c.Address(), "CELL", d("2.5"))

	outs, err := c.GetAvailableOutputs(context.Background(), "CELL")
	require.NoError(t, err)
	require.Len(t, outs, 4)
	total := sumInputs(outs)
	assert.True(t, total.Equal(d("35.5")))
	for _, o := range outs {
		assert.Equal(t, "CELL", o.Token)
	}
}
