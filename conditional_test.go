package composer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SashaZezulinsky/cellframe-composer/ledger"
)

func TestVotingProposalAndVotes(t *testing.T) {
	c, mem := createTestComposer(t)
	p := NewVotingProcessor(c)
	ctx := context.Background()

	votingHash, err := p.CreateSimpleVoting(ctx, "Raise the block size?", true, 4, d("0.01"))
	require.NoError(t, err)

	tx := lastSubmitted(t, mem)
	assert.Equal(t, string(TxVoting), tx.Type)
	out := tx.Outputs[0]
	assert.Equal(t, "conditional_voting", out.Type)
	assert.True(t, out.Value.IsZero())
	assert.Empty(t, out.Address)

	for _, option := range []string{"Yes", "Yes", "No"} {
		_, err := p.CreateVoteTransaction(ctx, votingHash, option, d("0.01"), 0)
		require.NoError(t, err)
	}

	res, err := p.GetVotingResults(ctx, votingHash)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalVotes)
	assert.Equal(t, 2, res.Results["Yes"].Votes)
	assert.Equal(t, "Yes", res.WinningOption)
	assert.True(t, res.QuorumReached)

	votes, err := p.GetUserVotes(ctx, "")
	require.NoError(t, err)
	assert.Len(t, votes, 3)

	proposals, err := p.GetVotingProposals(ctx, "all")
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, 3, proposals[0].CurrentVotes)

	_, err = p.CreateVoteTransaction(ctx, votingHash, "Maybe", d("0.01"), 1)
	assert.ErrorIs(t, err, ErrConditionalTransaction)
	_, err = p.CreateVoteTransaction(ctx, "no-such-voting", "Yes", d("0.01"), 1)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestVotingValidateParams(t *testing.T) {
	c, _ := createTestComposer(t)
	p := NewVotingProcessor(c)

	params, err := p.ValidateParams(map[string]any{
		"question":  "Which upgrade?",
		"options":   []any{"A", "B", "C"},
		"max_votes": 10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, params.(ProposalParams).Options)

	params, err = p.ValidateParams(map[string]any{"voting_hash": "abc", "vote_option": "A"})
	require.NoError(t, err)
	assert.Equal(t, 1, params.(VoteParams).weight())

	tests := []struct {
		name string
		raw  map[string]any
	}{
		{name: "neither proposal nor vote", raw: map[string]any{}},
		{name: "single option", raw: map[string]any{"question": "Q", "options": "A", "max_votes": 1}},
		{name: "duplicate option", raw: map[string]any{"question": "Q", "options": "A,A", "max_votes": 1}},
		{name: "zero max votes", raw: map[string]any{"question": "Q", "options": "A,B", "max_votes": 0}},
		{name: "expired", raw: map[string]any{"question": "Q", "options": "A,B", "max_votes": 1, "expire_time": "250114"}},
		{name: "missing option", raw: map[string]any{"voting_hash": "abc"}},
		{name: "negative weight", raw: map[string]any{"voting_hash": "abc", "vote_option": "A", "vote_weight": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ValidateParams(tt.raw)
			assert.ErrorIs(t, err, ErrConditionalTransaction)
		})
	}
}

func TestMultipleChoiceVotingDefaults(t *testing.T) {
	c, _ := createTestComposer(t)
	p := NewVotingProcessor(c)
	ctx := context.Background()

	hash, err := p.CreateMultipleChoiceVoting(ctx, "Pick a color", []string{"Red", "Green", "Blue"}, 0, d("0.01"))
	require.NoError(t, err)

	proposals, err := p.GetVotingProposals(ctx, "active")
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, hash, proposals[0].Hash)
	assert.Equal(t, DefaultMaxVotes, proposals[0].MaxVotes)

	_, err = p.CreateSimpleVoting(ctx, "Approve budget?", false, 0, d("0.01"))
	require.NoError(t, err)
	proposals, err = p.GetVotingProposals(ctx, "")
	require.NoError(t, err)
	require.Len(t, proposals, 2)
	assert.Equal(t, []string{"Approve", "Reject"}, proposals[1].Options)
}

func TestDelegationLifecycle(t *testing.T) {
	c, mem := createTestComposer(t)
	mem.Fund(c.Address(), "CELL", d("100"))
	p := NewDelegationProcessor(c)
	ctx := context.Background()

	hash, err := p.CreateDelegation(ctx, "validator_node_1", d("50"), d("0.01"), "", d("0"))
	require.NoError(t, err)

	tx := lastSubmitted(t, mem)
	assert.Equal(t, string(TxDelegation), tx.Type)
	assert.Equal(t, "conditional_delegation", tx.Outputs[0].Type)
	assert.Equal(t, "validator_node_1", tx.Outputs[0].Conditions["node_addr"])

	delegations, err := p.GetDelegations(ctx, "")
	require.NoError(t, err)
	require.Len(t, delegations, 1)
	assert.True(t, delegations[0].APR.Equal(d("5.2")))

	rewards, err := p.GetDelegationRewards(ctx, hash)
	require.NoError(t, err)
	assert.False(t, rewards.CanClaim)
	_, err = p.ClaimDelegationRewards(ctx, hash, d("0.01"))
	assert.ErrorIs(t, err, ErrConditionalTransaction)

	// Undelegating part keeps the rest with the same validator
	rest, err := p.Undelegate(ctx, hash, d("20"), d("0.01"))
	require.NoError(t, err)
	tx = lastSubmitted(t, mem)
	assert.Equal(t, ledger.OpUndelegate, tx.Operation)
	assert.True(t, tx.Outputs[0].Value.Equal(d("30")))
	assert.Equal(t, "conditional_delegation", tx.Outputs[0].Type)
	assert.True(t, tx.Outputs[1].Value.Equal(d("20")))
	assert.Equal(t, "regular", tx.Outputs[1].Type)

	_, err = p.Undelegate(ctx, hash, d("1"), d("0.01"))
	assert.ErrorIs(t, err, ErrConditionalTransaction)

	// Redelegating part returns the rest to the wallet
	_, err = p.Redelegate(ctx, rest, "validator_node_2", d("10"), d("0.01"))
	require.NoError(t, err)
	tx = lastSubmitted(t, mem)
	assert.Equal(t, ledger.OpRedelegate, tx.Operation)
	assert.Equal(t, "validator_node_2", tx.Outputs[0].Conditions["node_addr"])
	assert.True(t, tx.Outputs[0].Value.Equal(d("10")))
	assert.True(t, tx.Outputs[1].Value.Equal(d("20")))
}

func TestDelegationRejects(t *testing.T) {
	c, mem := createTestComposer(t)
	mem.PutDelegation(ledger.Delegation{
		Hash: "deleg-1", Owner: c.Address(), NodeAddr: "validator_node_1",
		Amount: d("10"), Token: "CELL", Status: "active",
	})
	p := NewDelegationProcessor(c)
	ctx := context.Background()

	_, err := p.CreateDelegation(ctx, "validator_node_9", d("1"), d("0.01"), "", d("0"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = p.CreateDelegation(ctx, "", d("1"), d("0.01"), "", d("0"))
	assert.ErrorIs(t, err, ErrConditionalTransaction)
	_, err = p.CreateDelegation(ctx, "validator_node_1", d("1"), d("0.01"), "", d("101"))
	assert.ErrorIs(t, err, ErrConditionalTransaction)

	_, err = p.Undelegate(ctx, "deleg-1", d("11"), d("0.01"))
	assert.ErrorIs(t, err, ErrConditionalTransaction)
	_, err = p.Redelegate(ctx, "deleg-1", "validator_node_1", d("1"), d("0.01"))
	assert.ErrorIs(t, err, ErrConditionalTransaction)
	_, err = p.Undelegate(ctx, "deleg-missing", d("1"), d("0.01"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = p.ValidateParams(map[string]any{"signing_addr": "bogus", "node_addr": "validator_node_1"})
	assert.ErrorIs(t, err, ErrConditionalTransaction)
}

func TestClaimDelegationRewards(t *testing.T) {
	c, mem := createTestComposer(t)
	mem.PutDelegation(ledger.Delegation{
		Hash: "deleg-rewards", Owner: c.Address(), NodeAddr: "validator_node_2",
		Amount: d("1000"), Token: "CELL", AccumulatedRewards: d("5"), Status: "active", APR: d("4.8"),
	})
	p := NewDelegationProcessor(c)
	ctx := context.Background()

	rewards, err := p.GetDelegationRewards(ctx, "deleg-rewards")
	require.NoError(t, err)
	assert.True(t, rewards.CanClaim)
	assert.True(t, rewards.EstimatedMonthly.Equal(d("4")))

	_, err = p.ClaimDelegationRewards(ctx, "deleg-rewards", d("0.01"))
	require.NoError(t, err)
	tx := lastSubmitted(t, mem)
	assert.Equal(t, ledger.OpClaimRewards, tx.Operation)
	assert.True(t, tx.Outputs[0].Value.Equal(d("5")))
	var rewardInput bool
	for _, in := range tx.Inputs {
		if in.TxHash == "deleg-rewards" && in.Index == 1 {
			rewardInput = true
		}
	}
	assert.True(t, rewardInput, "rewards outpoint must be spent")

	rewards, err = p.GetDelegationRewards(ctx, "deleg-rewards")
	require.NoError(t, err)
	assert.True(t, rewards.Accumulated.IsZero())

	// Rewards accrued after a claim can be claimed again
	require.NoError(t, mem.AccrueRewards("deleg-rewards", d("2")))
	_, err = p.ClaimDelegationRewards(ctx, "deleg-rewards", d("0.01"))
	require.NoError(t, err)
	assert.True(t, lastSubmitted(t, mem).Outputs[0].Value.Equal(d("2")))
	assert.ErrorIs(t, mem.AccrueRewards("no-such-delegation", d("1")), ledger.ErrNotFound)

	validators, err := p.GetAllValidators(ctx)
	require.NoError(t, err)
	assert.Len(t, validators, 2)
	v, err := p.GetValidatorInfo(ctx, "validator_node_2")
	require.NoError(t, err)
	assert.Equal(t, "Secure Validator", v.Name)
}

func TestServicePayments(t *testing.T) {
	c, mem := createTestComposer(t)
	p := NewServicePaymentProcessor(c)
	ctx := context.Background()

	hash, err := p.CreateStoragePayment(ctx, d("100"), d("0.001"), 30, d("0.01"))
	require.NoError(t, err)

	tx := lastSubmitted(t, mem)
	assert.Equal(t, string(TxServicePay), tx.Type)
	out := tx.Outputs[0]
	assert.Equal(t, "conditional_service_payment", out.Type)
	assert.Empty(t, out.Address)
	assert.True(t, out.Value.Equal(d("3")))
	assert.Equal(t, StorageService, out.Conditions["service_uid"])
	assert.Equal(t, "2592000", out.Conditions["timeout"])

	status, err := p.GetServicePaymentStatus(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "MB_per_day", status.UnitType)
	assert.Equal(t, "active", status.Status)

	_, err = p.CreateComputePayment(ctx, d("10"), d("0.05"), d("0.01"), time.Hour)
	require.NoError(t, err)
	_, err = p.CreateBandwidthPayment(ctx, d("2"), d("0.5"), d("0.01"), 0)
	require.NoError(t, err)

	payments, err := p.GetServicePayments(ctx, "")
	require.NoError(t, err)
	assert.Len(t, payments, 3)

	_, err = p.CancelServicePayment(ctx, hash, d("0.01"))
	require.NoError(t, err)
	refund := lastSubmitted(t, mem)
	assert.Equal(t, ledger.OpCancelPayment, refund.Operation)
	assert.True(t, refund.Outputs[0].Value.Equal(d("3")))

	_, err = p.CancelServicePayment(ctx, hash, d("0.01"))
	assert.ErrorIs(t, err, ErrConditionalTransaction)
	_, err = p.CreateStoragePayment(ctx, d("1"), d("1"), 0, d("0.01"))
	assert.ErrorIs(t, err, ErrConditionalTransaction)
}

func TestServicePaymentValidateParams(t *testing.T) {
	c, _ := createTestComposer(t)
	p := NewServicePaymentProcessor(c)

	params, err := p.ValidateParams(map[string]any{
		"service_uid":        "vpn",
		"max_price_per_unit": "0.2",
		"unit_type":          "GB",
		"timeout":            "2h",
		"conditions":         map[string]any{"region": "eu"},
	})
	require.NoError(t, err)
	sp := params.(ServicePaymentParams)
	assert.Equal(t, 2*time.Hour, sp.Timeout)
	assert.Equal(t, "7200", sp.Conditions()["timeout"])

	_, err = p.ValidateParams(map[string]any{"service_uid": "vpn", "unit_type": "GB"})
	assert.ErrorIs(t, err, ErrConditionalTransaction)
	_, err = p.ValidateParams(map[string]any{"service_uid": "vpn", "unit_type": "GB", "max_price_per_unit": "0"})
	assert.ErrorIs(t, err, ErrConditionalTransaction)
	_, err = p.ValidateParams(map[string]any{
		"service_uid": "vpn", "unit_type": "GB", "max_price_per_unit": "1", "conditions": "region=eu",
	})
	assert.ErrorIs(t, err, ErrConditionalTransaction)
}

func TestConditionalProcessorRouting(t *testing.T) {
	c, mem := createTestComposer(t)
	cp := NewConditionalProcessor(c)
	ctx := context.Background()

	for _, kind := range Kinds {
		proc, err := cp.Processor(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, proc.TransactionType())
	}
	_, err := cp.Processor(Kind("lottery"))
	assert.ErrorIs(t, err, ErrConditionalTransaction)

	hash, err := cp.CreateConditionalTransaction(ctx, KindStakeLock, d("5"), d("0.01"),
		map[string]any{"lock_time": "250601"})
	require.NoError(t, err)
	assert.Equal(t, hash, lastSubmitted(t, mem).Hash)

	// Invalid parameters fail before anything is submitted
	before := len(mem.Submitted())
	_, err = cp.CreateConditionalTransaction(ctx, KindExchange, d("5"), d("0.01"), map[string]any{"rate": "1"})
	assert.ErrorIs(t, err, ErrConditionalTransaction)
	assert.Len(t, mem.Submitted(), before)

	_, err = cp.Create(ctx, d("1"), d("0.01"), nil)
	assert.ErrorIs(t, err, ErrConditionalTransaction)

	_, err = cp.CreateExchangeOrder(ctx, "CELL", "USDT", d("2"), d("1.25"), d("0.01"))
	require.NoError(t, err)
	_, err = cp.CreateVotingProposal(ctx, "Q?", []string{"A", "B"}, 10, d("0.01"))
	require.NoError(t, err)

	ops, err := cp.GetAllConditionalOperations(ctx, "")
	require.NoError(t, err)
	assert.Len(t, ops.StakeLocks, 1)
	assert.Len(t, ops.ExchangeOrders, 1)
	assert.Empty(t, ops.Delegations)
	assert.Empty(t, ops.ServicePayments)
}

func TestServicePaymentExtraConditions(t *testing.T) {
	c, mem := createTestComposer(t)
	p := NewServicePaymentProcessor(c)

	// Shapes produced by JSON and YAML decoding
	extra := map[string]any{"region": "eu", "max_latency_ms": 50.0, "zones": []any{"a", "b"}}
	params, err := p.ValidateParams(map[string]any{
		"service_uid":        "vpn",
		"max_price_per_unit": "0.2",
		"unit_type":          "GB",
		"conditions":         extra,
	})
	require.NoError(t, err)
	sp := params.(ServicePaymentParams)
	assert.Equal(t, extra, sp.Extra)

	_, err = p.CreateConditionalTransaction(context.Background(), d("2"), d("0.01"), sp)
	require.NoError(t, err)
	out := outputOfType(t, lastSubmitted(t, mem), "conditional_service_payment")
	assert.Equal(t, extra, out.Conditions["additional_conditions"])
	assert.NotEmpty(t, out.Script)
}
