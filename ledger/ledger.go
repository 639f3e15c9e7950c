// Package ledger defines the port through which the composer talks to the
// native chain: spendable outputs, fee quotes, market rates, congestion,
// acceptance of assembled transactions and the conditional-record index.
//
// Three adapters live here. Memory is the deterministic fallback used when
// no node is reachable (and in tests), RPCClient talks JSON-RPC 2.0 to a
// node, and Switch puts a circuit breaker between the two.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable is returned when the backing node cannot be reached.
	// Callers treat it as the signal to use static fallback values.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrNotFound is returned when a record lookup by hash finds nothing.
	ErrNotFound = errors.New("ledger record not found")
)

// ConditionalPrefix prefixes the output type of every conditional output.
const ConditionalPrefix = "conditional_"

// UTXO is an unspent output owned by an address.
type UTXO struct {
	TxHash  string          `json:"tx_hash"`
	Index   uint32          `json:"index"`
	Value   decimal.Decimal `json:"value"`
	Token   string          `json:"token"`
	Address string          `json:"address,omitempty"`
}

// FeeQuote is the network fee for one token and the address collecting it.
type FeeQuote struct {
	Fee     decimal.Decimal `json:"fee"`
	Address string          `json:"address,omitempty"`
}

// TxOutput is one output of a transaction handed to Submit.
type TxOutput struct {
	Address    string          `json:"address,omitempty"`
	Value      decimal.Decimal `json:"value"`
	Token      string          `json:"token"`
	Type       string          `json:"type"`
	Conditions map[string]any  `json:"conditions,omitempty"`
	Script     []byte          `json:"script,omitempty"`
}

// SignedTx is an assembled, signed transaction.
type SignedTx struct {
	Hash      string     `json:"hash"`
	Type      string     `json:"type"`
	Operation string     `json:"operation,omitempty"`
	Network   string     `json:"network"`
	Wallet    string     `json:"wallet"`
	Inputs    []UTXO     `json:"inputs"`
	Outputs   []TxOutput `json:"outputs"`
	Signature []byte     `json:"signature"`
	Raw       []byte     `json:"raw"`
}

// Ledger is everything the composer needs from the chain.
type Ledger interface {
	// Outputs lists unspent outputs of address in token.
	Outputs(ctx context.Context, address, token string) ([]UTXO, error)
	// NetworkFee returns the protocol fee charged on network for token.
	NetworkFee(ctx context.Context, network, token string) (FeeQuote, error)
	// MarketRate returns how many units of buy one unit of sell fetches.
	MarketRate(ctx context.Context, sell, buy string) (decimal.Decimal, error)
	// Congestion returns the current congestion multiplier.
	Congestion(ctx context.Context) (decimal.Decimal, error)
	// Submit accepts an assembled transaction and returns its hash.
	Submit(ctx context.Context, tx *SignedTx) (string, error)

	ConditionIndex
}

// ConditionIndex answers queries about conditional outputs.
type ConditionIndex interface {
	StakeLocks(ctx context.Context, owner string) ([]StakeLock, error)
	StakeLock(ctx context.Context, hash string) (StakeLock, error)
	StakeLockHistory(ctx context.Context, owner string, limit int) ([]HistoryEntry, error)

	ExchangeOrders(ctx context.Context, owner string) ([]ExchangeOrder, error)
	ExchangeOrder(ctx context.Context, hash string) (ExchangeOrder, error)

	Proposals(ctx context.Context, status string) ([]Proposal, error)
	VotingResult(ctx context.Context, hash string) (VotingResult, error)
	Votes(ctx context.Context, voter string) ([]Vote, error)

	Delegations(ctx context.Context, owner string) ([]Delegation, error)
	DelegationRewards(ctx context.Context, hash string) (DelegationRewards, error)
	Validator(ctx context.Context, node string) (Validator, error)
	Validators(ctx context.Context) ([]Validator, error)

	ServicePayments(ctx context.Context, owner string) ([]ServicePayment, error)
	ServicePayment(ctx context.Context, hash string) (ServicePayment, error)
}

// Binder is implemented by adapters that can pin one backend for the
// duration of a composition call.
type Binder interface {
	Bind(ctx context.Context) context.Context
}

// Bind pins the backend of l for every call made with the returned context.
// Adapters that are not Binders are returned unchanged.
func Bind(ctx context.Context, l Ledger) context.Context {
	if b, ok := l.(Binder); ok {
		return b.Bind(ctx)
	}
	return ctx
}

// CompoundEntry records rewards folded back into a stake lock.
type CompoundEntry struct {
	Date   string          `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

// StakeLock is a locked stake and its reward state.
type StakeLock struct {
	Hash                 string          `json:"lock_hash"`
	Owner                string          `json:"owner"`
	Amount               decimal.Decimal `json:"amount"`
	Token                string          `json:"token"`
	LockTime             string          `json:"lock_time"`
	ReinvestPercent      decimal.Decimal `json:"reinvest_percent"`
	CreatedAt            string          `json:"created_at"`
	Status               string          `json:"status"`
	AccumulatedRewards   decimal.Decimal `json:"accumulated_rewards"`
	PartialUnlockAllowed bool            `json:"partial_unlock_allowed"`
	CompoundHistory      []CompoundEntry `json:"compound_history,omitempty"`
}

// Compounded returns the total amount compounded into the lock.
func (s StakeLock) Compounded() decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.CompoundHistory {
		total = total.Add(e.Amount)
	}
	return total
}

// HistoryEntry is one stake-lock operation in a wallet's history.
type HistoryEntry struct {
	TxHash    string          `json:"tx_hash"`
	Operation string          `json:"operation"`
	Amount    decimal.Decimal `json:"amount"`
	LockTime  string          `json:"lock_time,omitempty"`
	Timestamp string          `json:"timestamp"`
	Status    string          `json:"status"`
}

// ExchangeOrder is an open or settled exchange order.
type ExchangeOrder struct {
	Hash       string          `json:"order_hash"`
	Owner      string          `json:"owner"`
	TokenSell  string          `json:"token_sell"`
	TokenBuy   string          `json:"token_buy"`
	Amount     decimal.Decimal `json:"amount"`
	Rate       decimal.Decimal `json:"rate"`
	Filled     decimal.Decimal `json:"filled"`
	Status     string          `json:"status"`
	CreatedAt  string          `json:"created_at"`
	Expiration string          `json:"expiration,omitempty"`
}

// Remaining is the unfilled part of the order.
func (o ExchangeOrder) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.Filled)
}

// Proposal is a voting proposal.
type Proposal struct {
	Hash                 string   `json:"voting_hash"`
	Question             string   `json:"question"`
	Options              []string `json:"options"`
	MaxVotes             int      `json:"max_votes"`
	CurrentVotes         int      `json:"current_votes"`
	Status               string   `json:"status"`
	CreatedAt            string   `json:"created_at"`
	ExpireTime           string   `json:"expire_time,omitempty"`
	Creator              string   `json:"creator"`
	DelegatedKeyRequired bool     `json:"delegated_key_required"`
	VoteChangingAllowed  bool     `json:"vote_changing_allowed"`
}

// OptionTally is the vote count of one option.
type OptionTally struct {
	Votes      int             `json:"votes"`
	Percentage decimal.Decimal `json:"percentage"`
}

// VotingResult summarises a proposal's votes.
type VotingResult struct {
	Hash          string                 `json:"voting_hash"`
	Question      string                 `json:"question"`
	TotalVotes    int                    `json:"total_votes"`
	Results       map[string]OptionTally `json:"results"`
	Status        string                 `json:"status"`
	QuorumReached bool                   `json:"quorum_reached"`
	WinningOption string                 `json:"winning_option,omitempty"`
}

// Vote is a cast vote.
type Vote struct {
	Hash       string `json:"vote_hash"`
	VotingHash string `json:"voting_hash"`
	Option     string `json:"vote_option"`
	Weight     int    `json:"vote_weight"`
	Voter      string `json:"voter"`
	Timestamp  string `json:"timestamp"`
	Status     string `json:"status"`
}

// Delegation is stake delegated to a validator node.
type Delegation struct {
	Hash               string          `json:"delegation_hash"`
	Owner              string          `json:"owner"`
	NodeAddr           string          `json:"node_addr"`
	Amount             decimal.Decimal `json:"amount"`
	Token              string          `json:"token"`
	AccumulatedRewards decimal.Decimal `json:"accumulated_rewards"`
	Status             string          `json:"status"`
	CreatedAt          string          `json:"created_at"`
	CompletionTime     string          `json:"completion_time,omitempty"`
	APR                decimal.Decimal `json:"apr"`
}

// DelegationRewards describes rewards claimable from one delegation.
type DelegationRewards struct {
	Hash             string          `json:"delegation_hash"`
	Accumulated      decimal.Decimal `json:"accumulated_rewards"`
	LastClaim        string          `json:"last_claim,omitempty"`
	NextRewardDate   string          `json:"next_reward_date,omitempty"`
	EstimatedMonthly decimal.Decimal `json:"estimated_monthly_reward"`
	APR              decimal.Decimal `json:"current_apr"`
	CanClaim         bool            `json:"can_claim"`
	MinClaim         decimal.Decimal `json:"min_claim_amount"`
}

// Validator is a validator node.
type Validator struct {
	NodeAddr       string          `json:"node_addr"`
	Name           string          `json:"name"`
	Commission     decimal.Decimal `json:"commission"`
	TotalStake     decimal.Decimal `json:"total_stake"`
	DelegatorCount int             `json:"delegator_count"`
	Uptime         decimal.Decimal `json:"uptime"`
	APR            decimal.Decimal `json:"apr"`
	Status         string          `json:"status"`
}

// ServicePayment is a conditional payment for a network service.
type ServicePayment struct {
	Hash            string          `json:"payment_hash"`
	Owner           string          `json:"owner"`
	ServiceUID      string          `json:"service_uid"`
	Amount          decimal.Decimal `json:"amount"`
	Token           string          `json:"token"`
	MaxPricePerUnit decimal.Decimal `json:"max_price_per_unit"`
	UnitType        string          `json:"unit_type"`
	Status          string          `json:"status"`
	CreatedAt       string          `json:"created_at"`
	Timeout         string          `json:"timeout,omitempty"`
	UnitsConsumed   decimal.Decimal `json:"units_consumed"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	Provider        string          `json:"service_provider,omitempty"`
}

// RemainingBudget is the part of the payment not yet consumed.
func (p ServicePayment) RemainingBudget() decimal.Decimal {
	return p.Amount.Sub(p.TotalCost)
}
