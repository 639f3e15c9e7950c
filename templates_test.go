package composer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailableTemplates(t *testing.T) {
	c, _ := createTestComposer(t)
	tpls := NewTemplates(c)

	names := make([]string, 0, 9)
	for _, tpl := range tpls.Available() {
		names = append(names, tpl.Name)
		assert.NotEmpty(t, tpl.Description, tpl.Name)
		assert.NotEmpty(t, tpl.Required, tpl.Name)
	}
	assert.Equal(t, []string{
		"simple_transfer",
		"stake_lock_3_months",
		"stake_lock_1_year",
		"exchange_order_market",
		"exchange_order_limit",
		"voting_simple",
		"voting_multiple_choice",
		"batch_payments",
		"service_payment",
	}, names)

	tpl, ok := tpls.Template("stake_lock_1_year")
	require.True(t, ok)
	assert.Equal(t, "260115", tpl.Defaults["lock_time"])
	assert.Equal(t, "10", tpl.Defaults["reinvest_percent"])

	_, ok = tpls.Template("lottery")
	assert.False(t, ok)
}

func TestCreateFromTemplate(t *testing.T) {
	c, mem := createTestComposer(t)
	// The subtests share one wallet
	mem.Fund(c.Address(), "CELL", d("100"))
	tpls := NewTemplates(c)
	ctx := context.Background()
	to := createTestSigner(t, "recipient").Address()

	t.Run("simple_transfer", func(t *testing.T) {
		hash, err := tpls.CreateFromTemplate(ctx, "simple_transfer", map[string]any{
			"to_address": to, "amount": "5", "token_ticker": "CELL",
		})
		require.NoError(t, err)
		tx := lastSubmitted(t, mem)
		assert.Equal(t, hash, tx.Hash)
		assert.Equal(t, to, tx.Outputs[0].Address)
		assert.True(t, tx.Outputs[0].Value.Equal(d("5")))
	})

	t.Run("stake_lock_3_months", func(t *testing.T) {
		_, err := tpls.CreateFromTemplate(ctx, "stake_lock_3_months", map[string]any{"amount": 20})
		require.NoError(t, err)
		lock := outputOfType(t, lastSubmitted(t, mem), "conditional_stake_lock")
		assert.Equal(t, "250415", lock.Conditions["lock_time"])
		assert.True(t, lock.Value.Equal(d("20")))
	})

	t.Run("exchange_order_market", func(t *testing.T) {
		_, err := tpls.CreateFromTemplate(ctx, "exchange_order_market", map[string]any{
			"token_sell": "CELL", "token_buy": "USDT", "amount": "4",
		})
		require.NoError(t, err)
		order := outputOfType(t, lastSubmitted(t, mem), "conditional_exchange")
		assert.True(t, order.Value.Equal(d("4")))
	})

	t.Run("voting_simple", func(t *testing.T) {
		hash, err := tpls.CreateFromTemplate(ctx, "voting_simple", map[string]any{"question": "Ship it?"})
		require.NoError(t, err)
		res, err := NewVotingProcessor(c).GetVotingResults(ctx, hash)
		require.NoError(t, err)
		assert.Contains(t, res.Results, "Yes")
		assert.Contains(t, res.Results, "No")
	})

	t.Run("batch_payments", func(t *testing.T) {
		before := len(mem.Submitted())
		hash, err := tpls.CreateFromTemplate(ctx, "batch_payments", map[string]any{
			"token_ticker": "CELL",
			"recipients": []any{
				map[string]any{"address": to, "amount": "1"},
				map[string]any{"address": to, "amount": "2"},
			},
		})
		require.NoError(t, err)
		txs := mem.Submitted()
		require.Len(t, txs, before+2)
		assert.Equal(t, txs[before].Hash, hash)
	})

	t.Run("service_payment", func(t *testing.T) {
		_, err := tpls.CreateFromTemplate(ctx, "service_payment", map[string]any{
			"service_uid": "vpn", "max_price_per_unit": "0.2", "unit_type": "GB", "amount": "2",
		})
		require.NoError(t, err)
		out := outputOfType(t, lastSubmitted(t, mem), "conditional_service_payment")
		assert.Equal(t, "vpn", out.Conditions["service_uid"])
	})
}

func TestCreateFromTemplateRejects(t *testing.T) {
	c, mem := createTestComposer(t)
	tpls := NewTemplates(c)
	ctx := context.Background()
	to := createTestSigner(t, "recipient").Address()

	tests := []struct {
		name     string
		template string
		params   map[string]any
	}{
		{name: "unknown template", template: "lottery", params: map[string]any{}},
		{name: "missing parameter", template: "simple_transfer", params: map[string]any{"to_address": to, "amount": "1"}},
		{name: "bad amount", template: "simple_transfer", params: map[string]any{"to_address": to, "amount": "lots", "token_ticker": "CELL"}},
		{name: "bad fee", template: "simple_transfer", params: map[string]any{"to_address": to, "amount": "1", "token_ticker": "CELL", "fee": "free"}},
		{name: "empty recipients", template: "batch_payments", params: map[string]any{"recipients": []any{}}},
		{name: "recipients not a list", template: "batch_payments", params: map[string]any{"recipients": "everyone"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tpls.CreateFromTemplate(ctx, tt.template, tt.params)
			assert.ErrorIs(t, err, ErrTemplate)
		})
	}
	assert.Empty(t, mem.Submitted())
}

func TestCreateBatchFromTemplate(t *testing.T) {
	c, mem := createTestComposer(t)
	tpls := NewTemplates(c)
	ctx := context.Background()
	to := createTestSigner(t, "recipient").Address()

	res, err := tpls.CreateBatchFromTemplate(ctx, "simple_transfer", []map[string]any{
		{"to_address": to, "amount": "1", "token_ticker": "CELL"},
		{"to_address": to, "token_ticker": "KEL"},
		{"to_address": to, "amount": "2", "token_ticker": "KEL"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessfulCount)
	assert.Equal(t, 1, res.FailedCount)
	assert.Len(t, mem.Submitted(), 2)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Equal(t, "KEL", res.Errors[0].Token)
	assert.ErrorIs(t, res.Errors[0].Err, ErrTemplate)

	_, err = tpls.CreateBatchFromTemplate(ctx, "lottery", nil)
	assert.ErrorIs(t, err, ErrTemplate)
}
