package composer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SashaZezulinsky/cellframe-composer/ledger"
	"github.com/SashaZezulinsky/cellframe-composer/wallet"
)

func TestBatchSimpleRecordsFailures(t *testing.T) {
	c, mem := createTestComposer(t)
	b := NewBatchProcessor(c, nil)
	to := createTestSigner(t, "recipient").Address()

	defs := []TxDefinition{
		{To: to, Amount: d("5"), Token: "CELL"},
		{To: "not-an-address", Amount: d("1"), Token: "CELL"},
		{To: to, Amount: d("1000"), Token: "CELL"},
		{To: to, Amount: d("2"), Token: "KEL"},
		{Type: "lottery", To: to, Amount: d("1")},
	}

	res, err := b.CreateBatchTransactions(context.Background(), defs, false)
	require.NoError(t, err)
	assert.NotEmpty(t, res.BatchID)
	assert.Equal(t, 2, res.SuccessfulCount)
	assert.Equal(t, 3, res.FailedCount)
	assert.Len(t, res.Hashes, 2)
	assert.Len(t, mem.Submitted(), 2)
	assert.True(t, res.TotalFees.Equal(d("0.0215")), "total fees %s", res.TotalFees)

	require.Len(t, res.Errors, 3)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.ErrorIs(t, res.Errors[0].Err, wallet.ErrInvalidAddress)
	assert.Equal(t, 2, res.Errors[1].Index)
	assert.ErrorIs(t, res.Errors[1].Err, ErrInsufficientFunds)
	assert.Equal(t, 4, res.Errors[2].Index)
	assert.Equal(t, "CELL", res.Errors[2].Token)
	assert.ErrorIs(t, res.Errors[2], ErrBatchProcessing)
}

func TestBatchOptimizedChainsChange(t *testing.T) {
	c, mem := createTestComposer(t, ledger.WithoutSyntheticOutputs())
	mem.Fund(c.Address(), "CELL", d("10"))
	b := NewBatchProcessor(c, nil)
	to := createTestSigner(t, "recipient").Address()

	defs := make([]TxDefinition, 3)
	for i := range defs {
		defs[i] = TxDefinition{To: to, Amount: d("1"), Token: "CELL"}
	}

	res, err := b.CreateBatchTransactions(context.Background(), defs, true)
	require.NoError(t, err)
	assert.Equal(t, 3, res.SuccessfulCount)
	assert.Zero(t, res.FailedCount)
	assert.True(t, res.TotalFees.Equal(d("0.033")), "total fees %s", res.TotalFees)
	assert.True(t, res.FeeSavings.IsPositive())

	// Later items spend the change of earlier ones
	txs := mem.Submitted()
	require.Len(t, txs, 3)
	assert.Equal(t, txs[0].Hash, txs[1].Inputs[0].TxHash)
	assert.Equal(t, txs[1].Hash, txs[2].Inputs[0].TxHash)

	outs, err := c.GetAvailableOutputs(context.Background(), "CELL")
	require.NoError(t, err)
	assert.True(t, sumInputs(outs).Equal(d("6.967")), "left %s", sumInputs(outs))
}

func TestBatchOptimizedInsufficientPool(t *testing.T) {
	c, mem := createTestComposer(t, ledger.WithoutSyntheticOutputs())
	mem.Fund(c.Address(), "CELL", d("3"))
	b := NewBatchProcessor(c, nil)
	to := createTestSigner(t, "recipient").Address()

	defs := make([]TxDefinition, 4)
	for i := range defs {
		defs[i] = TxDefinition{To: to, Amount: d("1"), Token: "CELL"}
	}

	res, err := b.CreateBatchTransactions(context.Background(), defs, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessfulCount)
	assert.Equal(t, 2, res.FailedCount)
	for _, e := range res.Errors {
		assert.ErrorIs(t, e.Err, ErrInsufficientFundsInBatch)
		assert.ErrorIs(t, e.Err, ErrInsufficientFunds)
	}
	assert.Equal(t, 2, res.Errors[0].Index)
	assert.Equal(t, 3, res.Errors[1].Index)
}

func TestBatchConditionalItems(t *testing.T) {
	c, mem := createTestComposer(t)
	b := NewBatchProcessor(c, nil)

	defs := []TxDefinition{
		{Type: "stake_lock", Amount: d("10"), Params: map[string]any{"lock_time": 250601}},
		{Type: string(TxExchange), Amount: d("5"), Token: "KEL", Params: map[string]any{"token_buy": "CELL", "rate": "2"}},
		{Type: "voting", Params: map[string]any{"question": "Q"}},
	}

	res, err := b.CreateBatchTransactions(context.Background(), defs, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessfulCount)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Index)
	assert.ErrorIs(t, res.Errors[0].Err, ErrConditionalTransaction)

	txs := mem.Submitted()
	require.Len(t, txs, 2)
	lock := outputOfType(t, txs[0], "conditional_stake_lock")
	assert.Equal(t, "250601", lock.Conditions["lock_time"])
	order := outputOfType(t, txs[1], "conditional_exchange")
	assert.Equal(t, "KEL", order.Token)
	assert.True(t, order.Value.Equal(d("5")))
}

func TestMultiTokenBatch(t *testing.T) {
	c, _ := createTestComposer(t)
	b := NewBatchProcessor(c, nil)
	to := createTestSigner(t, "recipient").Address()

	res, err := b.CreateMultiTokenBatch(context.Background(), map[string][]TxDefinition{
		"CELL": {{To: to, Amount: d("1")}, {To: to, Amount: d("2")}},
		"KEL":  {{To: to, Amount: d("3")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalTransactions)
	assert.Equal(t, 3, res.TotalSuccessful)
	assert.Zero(t, res.TotalFailed)
	require.Contains(t, res.TokenResults, "KEL")
	assert.Equal(t, 1, res.TokenResults["KEL"].SuccessfulCount)
	assert.True(t, res.TotalFees.Equal(res.TokenResults["CELL"].TotalFees.Add(res.TokenResults["KEL"].TotalFees)))

	_, err = b.CreateMultiTokenBatch(context.Background(), map[string][]TxDefinition{
		"": {{To: to, Amount: d("1")}},
	})
	assert.ErrorIs(t, err, ErrBatchProcessing)
}

func TestBatchOnClosedComposer(t *testing.T) {
	c, _ := createTestComposer(t)
	b := NewBatchProcessor(c, nil)
	require.NoError(t, c.Close())

	_, err := b.CreateBatchTransactions(context.Background(), []TxDefinition{{Amount: d("1")}}, false)
	assert.ErrorIs(t, err, ErrComposerClosed)
}

func TestLoadDefinitions(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		defs, err := LoadDefinitions(strings.NewReader(`
- to_address: addr
  amount: 1.5
  token_ticker: CELL
  fee: 0.02
- type: stake_lock
  amount: "10"
  lock_time: "250601"
  reinvest_percent: 5
`))
		require.NoError(t, err)
		require.Len(t, defs, 2)
		assert.Equal(t, "addr", defs[0].To)
		assert.True(t, defs[0].Amount.Equal(d("1.5")))
		require.NotNil(t, defs[0].Fee)
		assert.True(t, defs[0].Fee.Equal(d("0.02")))
		assert.Empty(t, defs[0].Params)

		assert.Equal(t, "stake_lock", defs[1].Type)
		assert.Nil(t, defs[1].Fee)
		assert.Equal(t, "250601", defs[1].Params["lock_time"])
		assert.Equal(t, 5, defs[1].Params["reinvest_percent"])
	})

	t.Run("mapping", func(t *testing.T) {
		defs, err := LoadDefinitions(strings.NewReader(`
transactions:
  - to_address: a
    amount: 1
  - to_address: b
    amount: 2
    token_ticker: KEL
`))
		require.NoError(t, err)
		require.Len(t, defs, 2)
		assert.Equal(t, "KEL", defs[1].Token)
		assert.Empty(t, defs[0].Token)
	})

	t.Run("empty", func(t *testing.T) {
		defs, err := LoadDefinitions(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, defs)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := LoadDefinitions(strings.NewReader("- amount: [1"))
		assert.ErrorIs(t, err, ErrBatchProcessing)
		_, err = LoadDefinitions(strings.NewReader("- amount: lots"))
		assert.ErrorIs(t, err, ErrBatchProcessing)
	})
}

func TestBatchOneInvalidItem(t *testing.T) {
	to := createTestSigner(t, "recipient").Address()

	for _, optimize := range []bool{false, true} {
		name := "simple"
		if optimize {
			name = "optimized"
		}
		t.Run(name, func(t *testing.T) {
			c, _ := createTestComposer(t)
			b := NewBatchProcessor(c, nil)
			defs := []TxDefinition{
				{To: to, Amount: d("1")},
				{To: to, Amount: d("-1")},
				{To: to, Amount: d("2")},
				{To: to, Amount: d("3")},
			}

			res, err := b.CreateBatchTransactions(context.Background(), defs, optimize)
			require.NoError(t, err)
			assert.Equal(t, len(defs)-1, res.SuccessfulCount)
			assert.Equal(t, 1, res.FailedCount)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, 1, res.Errors[0].Index)
			assert.ErrorIs(t, res.Errors[0].Err, ErrBatchProcessing)
		})
	}
}

func TestBatchVotesAreChecked(t *testing.T) {
	c, mem := createTestComposer(t)
	ctx := context.Background()
	votingHash, err := NewVotingProcessor(c).CreateSimpleVoting(ctx, "Raise the block size?", true, 4, d("0.01"))
	require.NoError(t, err)

	res, err := NewBatchProcessor(c, nil).CreateBatchTransactions(ctx, []TxDefinition{
		{Type: "voting", Params: map[string]any{"voting_hash": votingHash, "vote_option": "Maybe"}},
		{Type: "voting", Params: map[string]any{"voting_hash": votingHash, "vote_option": "Yes"}},
		{Type: "voting", Params: map[string]any{"voting_hash": "no-such-voting", "vote_option": "Yes"}},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessfulCount)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 0, res.Errors[0].Index)
	assert.ErrorIs(t, res.Errors[0].Err, ErrConditionalTransaction)
	assert.Equal(t, 2, res.Errors[1].Index)
	assert.ErrorIs(t, res.Errors[1].Err, ledger.ErrNotFound)

	votes, err := mem.Votes(ctx, c.Address())
	require.NoError(t, err)
	assert.Len(t, votes, 1)
}
