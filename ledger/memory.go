package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/shopspring/decimal"
)

// ErrDoubleSpend is returned by Memory.Submit when an input was already spent.
var ErrDoubleSpend = errors.New("input already spent")

// Spend operations recorded by Memory when a transaction consumes a
// conditional output.
const (
	OpPartialUnlock   = "partial_unlock"
	OpEmergencyUnlock = "emergency_unlock"
	OpCompound        = "compound"
	OpCancelOrder     = "cancel_order"
	OpCancelPayment   = "cancel_service_payment"
	OpUndelegate      = "undelegate"
	OpRedelegate      = "redelegate"
	OpClaimRewards    = "claim_rewards"
)

// syntheticValues are the values of the outputs Memory invents for an
// address and token it has not seen before.
var syntheticValues = []int64{10, 11, 12}

// Memory is the deterministic in-memory ledger. It lazily seeds synthetic
// outputs per address and token, applies submitted transactions to its
// output set and indexes conditional outputs so later queries see them.
type Memory struct {
	mu sync.Mutex

	now       func() time.Time
	synthetic bool

	outputs map[string][]UTXO
	seeded  map[string]bool
	spent   map[string]bool
	serial  map[string]int

	fees       map[string]FeeQuote
	rates      map[string]decimal.Decimal
	congestion decimal.Decimal
	submitted  []*SignedTx

	locks       records[StakeLock]
	history     map[string][]HistoryEntry
	orders      records[ExchangeOrder]
	proposals   records[Proposal]
	votes       []Vote
	delegations records[Delegation]
	payments    records[ServicePayment]
	validators  []Validator
}

// records keeps conditional records by hash in submission order.
type records[T any] struct {
	byHash map[string]*T
	order  []string
}

func (r *records[T]) put(hash string, v *T) {
	if r.byHash == nil {
		r.byHash = make(map[string]*T)
	}
	if _, ok := r.byHash[hash]; !ok {
		r.order = append(r.order, hash)
	}
	r.byHash[hash] = v
}

func (r *records[T]) get(hash string) (*T, bool) {
	v, ok := r.byHash[hash]
	return v, ok
}

func (r *records[T]) find(kind, hash string) (T, error) {
	v, ok := r.byHash[hash]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %s", ErrNotFound, kind, hash)
	}
	return *v, nil
}

// list copies the records accepted by keep, oldest first.
func (r *records[T]) list(keep func(*T) bool) []T {
	var out []T
	for _, h := range r.order {
		if v := r.byHash[h]; keep(v) {
			out = append(out, *v)
		}
	}
	return out
}

// newValidator builds a seeded validator from decimal strings.
func newValidator(node, name, commission, stake string, delegators int, uptime, apr string) Validator {
	return Validator{
		NodeAddr:       node,
		Name:           name,
		Commission:     decimal.RequireFromString(commission),
		TotalStake:     decimal.RequireFromString(stake),
		DelegatorCount: delegators,
		Uptime:         decimal.RequireFromString(uptime),
		APR:            decimal.RequireFromString(apr),
		Status:         "active",
	}
}

// MemoryOption configures a Memory ledger.
type MemoryOption func(*Memory)

// WithMemoryClock sets the clock used for record timestamps.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithoutSyntheticOutputs disables lazy seeding; only funded outputs exist.
func WithoutSyntheticOutputs() MemoryOption {
	return func(m *Memory) { m.synthetic = false }
}

// NewMemory creates an empty in-memory ledger.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:        time.Now,
		synthetic:  true,
		outputs:    make(map[string][]UTXO),
		seeded:     make(map[string]bool),
		spent:      make(map[string]bool),
		serial:     make(map[string]int),
		fees:       make(map[string]FeeQuote),
		rates:      make(map[string]decimal.Decimal),
		congestion: decimal.NewFromInt(1),
		history:    make(map[string][]HistoryEntry),
		validators: []Validator{
			newValidator("validator_node_1", "Cellframe Validator 1", "5.0", "50000.0", 125, "99.8", "5.2"),
			newValidator("validator_node_2", "Secure Validator", "3.0", "75000.0", 80, "99.9", "4.8"),
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func outputsKey(address, token string) string { return address + "|" + token }

func outpoint(hash string, index uint32) string { return fmt.Sprintf("%s:%d", hash, index) }

// syntheticHash derives a stable hash for an invented output.
func syntheticHash(address, token string, n int) string {
	return chainhash.DoubleHashH([]byte(fmt.Sprintf("%s|%s|%d", address, token, n))).String()
}

func (m *Memory) ensureSeededLocked(address, token string) {
	key := outputsKey(address, token)
	if m.seeded[key] {
		return
	}
	m.seeded[key] = true
	if !m.synthetic {
		return
	}
	for _, v := range syntheticValues {
		m.addOutputLocked(address, token, decimal.NewFromInt(v))
	}
}

func (m *Memory) addOutputLocked(address, token string, value decimal.Decimal) {
	key := outputsKey(address, token)
	n := m.serial[key]
	m.serial[key] = n + 1
	m.outputs[key] = append(m.outputs[key], UTXO{
		TxHash:  syntheticHash(address, token, n),
		Index:   0,
		Value:   value,
		Token:   token,
		Address: address,
	})
}

// Fund adds outputs of the given values to address in token.
func (m *Memory) Fund(address, token string, values ...decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureSeededLocked(address, token)
	for _, v := range values {
		m.addOutputLocked(address, token, v)
	}
}

// SetNetworkFee fixes the network fee quoted for token on every network.
func (m *Memory) SetNetworkFee(token string, quote FeeQuote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fees[token] = quote
}

// SetMarketRate fixes the rate for a sell/buy pair.
func (m *Memory) SetMarketRate(sell, buy string, rate decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[sell+"/"+buy] = rate
}

// SetCongestion sets the congestion multiplier.
func (m *Memory) SetCongestion(factor decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.congestion = factor
}

// Submitted returns the transactions accepted so far, oldest first.
func (m *Memory) Submitted() []*SignedTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*SignedTx, len(m.submitted))
	copy(out, m.submitted)
	return out
}

// Outputs implements Ledger.
func (m *Memory) Outputs(_ context.Context, address, token string) ([]UTXO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureSeededLocked(address, token)
	src := m.outputs[outputsKey(address, token)]
	out := make([]UTXO, len(src))
	copy(out, src)
	return out, nil
}

// NetworkFee implements Ledger. Tokens without a configured quote report
// ErrUnavailable so callers apply their static schedule.
func (m *Memory) NetworkFee(_ context.Context, _ string, token string) (FeeQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.fees[token]
	if !ok {
		return FeeQuote{}, fmt.Errorf("%w: no fee quote for %s", ErrUnavailable, token)
	}
	return q, nil
}

// MarketRate implements Ledger. Unknown pairs report ErrUnavailable.
func (m *Memory) MarketRate(_ context.Context, sell, buy string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rates[sell+"/"+buy]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no rate for %s/%s", ErrUnavailable, sell, buy)
	}
	return r, nil
}

// Congestion implements Ledger.
func (m *Memory) Congestion(context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.congestion, nil
}

// Submit implements Ledger. Inputs must be unspent wallet outputs or
// outpoints of indexed conditional records.
func (m *Memory) Submit(_ context.Context, tx *SignedTx) (string, error) {
	if tx == nil || tx.Hash == "" {
		return "", errors.New("transaction hash is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate every input before touching state
	for _, in := range tx.Inputs {
		op := outpoint(in.TxHash, in.Index)
		if m.spent[op] {
			return "", fmt.Errorf("%w: %s", ErrDoubleSpend, op)
		}
		if !m.isWalletOutputLocked(in) && !m.isConditionalLocked(in.TxHash) {
			return "", fmt.Errorf("%w: input %s", ErrNotFound, op)
		}
	}

	for _, in := range tx.Inputs {
		m.spent[outpoint(in.TxHash, in.Index)] = true
		m.removeOutputLocked(in)
		m.applySpendLocked(tx, in)
	}

	for i, out := range tx.Outputs {
		switch {
		case strings.HasPrefix(out.Type, ConditionalPrefix):
			m.indexConditionalLocked(tx, out)
		case out.Address != "" && (out.Type == "regular" || out.Type == "coin_back"):
			m.ensureSeededLocked(out.Address, out.Token)
			key := outputsKey(out.Address, out.Token)
			m.outputs[key] = append(m.outputs[key], UTXO{
				TxHash:  tx.Hash,
				Index:   uint32(i),
				Value:   out.Value,
				Token:   out.Token,
				Address: out.Address,
			})
		}
	}

	m.submitted = append(m.submitted, tx)
	return tx.Hash, nil
}

func (m *Memory) isWalletOutputLocked(in UTXO) bool {
	for _, list := range m.outputs {
		for _, u := range list {
			if u.TxHash == in.TxHash && u.Index == in.Index {
				return true
			}
		}
	}
	return false
}

func (m *Memory) isConditionalLocked(hash string) bool {
	_, lock := m.locks.get(hash)
	_, order := m.orders.get(hash)
	_, deleg := m.delegations.get(hash)
	_, pay := m.payments.get(hash)
	return lock || order || deleg || pay
}

func (m *Memory) removeOutputLocked(in UTXO) {
	for key, list := range m.outputs {
		for i, u := range list {
			if u.TxHash == in.TxHash && u.Index == in.Index {
				m.outputs[key] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (m *Memory) timestamp() string {
	return m.now().UTC().Format(time.RFC3339)
}

func (m *Memory) applySpendLocked(tx *SignedTx, in UTXO) {
	if lock, ok := m.locks.get(in.TxHash); ok && in.Index == 0 {
		switch tx.Operation {
		case OpCompound:
			lock.Status = "compounded"
		default:
			lock.Status = "unlocked"
		}
		m.history[lock.Owner] = append(m.history[lock.Owner], HistoryEntry{
			TxHash:    tx.Hash,
			Operation: tx.Operation,
			Amount:    lock.Amount,
			LockTime:  lock.LockTime,
			Timestamp: m.timestamp(),
			Status:    "confirmed",
		})
	}
	if order, ok := m.orders.get(in.TxHash); ok {
		order.Status = "cancelled"
	}
	if p, ok := m.payments.get(in.TxHash); ok {
		p.Status = "cancelled"
	}
	if d, ok := m.delegations.get(in.TxHash); ok {
		switch {
		case in.Index == 1:
			// The rewards outpoint is a running balance that later claims reuse
			d.AccumulatedRewards = decimal.Zero
			delete(m.spent, outpoint(in.TxHash, in.Index))
		case tx.Operation == OpRedelegate:
			d.Status = "redelegated"
		default:
			d.Status = "undelegating"
			d.CompletionTime = m.now().UTC().AddDate(0, 0, 21).Format("060102")
		}
	}
}

func (m *Memory) indexConditionalLocked(tx *SignedTx, out TxOutput) {
	c := out.Conditions
	created := m.now().UTC().Format("060102")

	switch strings.TrimPrefix(out.Type, ConditionalPrefix) {
	case "stake_lock":
		lock := &StakeLock{
			Hash:                 tx.Hash,
			Owner:                tx.Wallet,
			Amount:               out.Value,
			Token:                out.Token,
			LockTime:             condString(c, "lock_time"),
			ReinvestPercent:      condDecimal(c, "reinvest_percent"),
			CreatedAt:            created,
			Status:               "active",
			AccumulatedRewards:   decimal.Zero,
			PartialUnlockAllowed: true,
		}
		if src, ok := m.locks.get(condString(c, "source_lock")); ok {
			lock.CreatedAt = src.CreatedAt
			lock.CompoundHistory = append(lock.CompoundHistory, src.CompoundHistory...)
			if tx.Operation == OpCompound {
				lock.CompoundHistory = append(lock.CompoundHistory, CompoundEntry{
					Date:   created,
					Amount: condDecimal(c, "compound_amount"),
				})
			}
		}
		m.locks.put(tx.Hash, lock)
		op := tx.Operation
		if op == "" {
			op = "lock"
		}
		m.history[tx.Wallet] = append(m.history[tx.Wallet], HistoryEntry{
			TxHash:    tx.Hash,
			Operation: op,
			Amount:    out.Value,
			LockTime:  lock.LockTime,
			Timestamp: m.timestamp(),
			Status:    "confirmed",
		})

	case "exchange":
		m.orders.put(tx.Hash, &ExchangeOrder{
			Hash:       tx.Hash,
			Owner:      tx.Wallet,
			TokenSell:  out.Token,
			TokenBuy:   condString(c, "token_buy"),
			Amount:     out.Value,
			Rate:       condDecimal(c, "rate"),
			Filled:     decimal.Zero,
			Status:     "open",
			CreatedAt:  created,
			Expiration: condString(c, "expiration"),
		})

	case "voting":
		if q := condString(c, "question"); q != "" {
			m.proposals.put(tx.Hash, &Proposal{
				Hash:                 tx.Hash,
				Question:             q,
				Options:              condStrings(c, "options"),
				MaxVotes:             condInt(c, "max_votes"),
				Status:               "active",
				CreatedAt:            created,
				ExpireTime:           condString(c, "expire_time"),
				Creator:              tx.Wallet,
				DelegatedKeyRequired: condBool(c, "delegated_key_required"),
				VoteChangingAllowed:  condBool(c, "vote_changing_allowed"),
			})
			return
		}
		vote := Vote{
			Hash:       tx.Hash,
			VotingHash: condString(c, "voting_hash"),
			Option:     condString(c, "vote_option"),
			Weight:     condInt(c, "vote_weight"),
			Voter:      tx.Wallet,
			Timestamp:  m.timestamp(),
			Status:     "confirmed",
		}
		if vote.Weight == 0 {
			vote.Weight = 1
		}
		m.votes = append(m.votes, vote)
		if p, ok := m.proposals.get(vote.VotingHash); ok {
			p.CurrentVotes += vote.Weight
		}

	case "delegation":
		apr := decimal.Zero
		node := condString(c, "node_addr")
		for _, v := range m.validators {
			if v.NodeAddr == node {
				apr = v.APR
			}
		}
		m.delegations.put(tx.Hash, &Delegation{
			Hash:               tx.Hash,
			Owner:              tx.Wallet,
			NodeAddr:           node,
			Amount:             out.Value,
			Token:              out.Token,
			AccumulatedRewards: decimal.Zero,
			Status:             "active",
			CreatedAt:          created,
			APR:                apr,
		})

	case "service_payment":
		m.payments.put(tx.Hash, &ServicePayment{
			Hash:            tx.Hash,
			Owner:           tx.Wallet,
			ServiceUID:      condString(c, "service_uid"),
			Amount:          out.Value,
			Token:           out.Token,
			MaxPricePerUnit: condDecimal(c, "max_price_per_unit"),
			UnitType:        condString(c, "unit_type"),
			Status:          "active",
			CreatedAt:       created,
			Timeout:         condString(c, "timeout"),
			UnitsConsumed:   decimal.Zero,
			TotalCost:       decimal.Zero,
		})
	}
}

// PutStakeLock stores a stake lock record as if it had been submitted.
func (m *Memory) PutStakeLock(lock StakeLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks.put(lock.Hash, &lock)
}

// PutExchangeOrder stores an exchange order record.
func (m *Memory) PutExchangeOrder(order ExchangeOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders.put(order.Hash, &order)
}

// PutDelegation stores a delegation record.
func (m *Memory) PutDelegation(d Delegation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delegations.put(d.Hash, &d)
}

// AccrueRewards adds amount to the accumulated rewards of a delegation.
func (m *Memory) AccrueRewards(hash string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.delegations.get(hash)
	if !ok {
		return fmt.Errorf("%w: delegation %s", ErrNotFound, hash)
	}
	d.AccumulatedRewards = d.AccumulatedRewards.Add(amount)
	return nil
}

// PutServicePayment stores a service payment record.
func (m *Memory) PutServicePayment(p ServicePayment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments.put(p.Hash, &p)
}

// StakeLocks implements ConditionIndex.
func (m *Memory) StakeLocks(_ context.Context, owner string) ([]StakeLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks.list(func(l *StakeLock) bool { return l.Owner == owner }), nil
}

// StakeLock implements ConditionIndex.
func (m *Memory) StakeLock(_ context.Context, hash string) (StakeLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks.find("stake lock", hash)
}

// StakeLockHistory implements ConditionIndex. Newest entries come first.
func (m *Memory) StakeLockHistory(_ context.Context, owner string, limit int) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.history[owner]
	out := make([]HistoryEntry, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, src[i])
	}
	return out, nil
}

// ExchangeOrders implements ConditionIndex.
func (m *Memory) ExchangeOrders(_ context.Context, owner string) ([]ExchangeOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders.list(func(o *ExchangeOrder) bool { return o.Owner == owner }), nil
}

// ExchangeOrder implements ConditionIndex.
func (m *Memory) ExchangeOrder(_ context.Context, hash string) (ExchangeOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders.find("exchange order", hash)
}

// Proposals implements ConditionIndex. An empty status lists every proposal.
func (m *Memory) Proposals(_ context.Context, status string) ([]Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.proposals.list(func(p *Proposal) bool { return status == "" || p.Status == status })
	for i := range out {
		out[i].Options = append([]string(nil), out[i].Options...)
	}
	return out, nil
}

// VotingResult implements ConditionIndex. Quorum is reached once at least
// half of max_votes has been cast.
func (m *Memory) VotingResult(_ context.Context, hash string) (VotingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals.get(hash)
	if !ok {
		return VotingResult{}, fmt.Errorf("%w: proposal %s", ErrNotFound, hash)
	}

	counts := make(map[string]int, len(p.Options))
	for _, opt := range p.Options {
		counts[opt] = 0
	}
	total := 0
	for _, v := range m.votes {
		if v.VotingHash != hash {
			continue
		}
		counts[v.Option] += v.Weight
		total += v.Weight
	}

	res := VotingResult{
		Hash:          hash,
		Question:      p.Question,
		TotalVotes:    total,
		Results:       make(map[string]OptionTally, len(counts)),
		Status:        p.Status,
		QuorumReached: p.MaxVotes > 0 && total*2 >= p.MaxVotes,
	}

	// Options sorted for a stable winner on ties
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	best := -1
	for _, name := range names {
		n := counts[name]
		pct := decimal.Zero
		if total > 0 {
			pct = decimal.NewFromInt(int64(n)).Div(decimal.NewFromInt(int64(total))).Mul(decimal.NewFromInt(100)).Round(1)
		}
		res.Results[name] = OptionTally{Votes: n, Percentage: pct}
		if total > 0 && n > best {
			best = n
			res.WinningOption = name
		}
	}
	return res, nil
}

// Votes implements ConditionIndex.
func (m *Memory) Votes(_ context.Context, voter string) ([]Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Vote
	for _, v := range m.votes {
		if v.Voter == voter {
			out = append(out, v)
		}
	}
	return out, nil
}

// Delegations implements ConditionIndex.
func (m *Memory) Delegations(_ context.Context, owner string) ([]Delegation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delegations.list(func(d *Delegation) bool { return d.Owner == owner }), nil
}

// DelegationRewards implements ConditionIndex.
func (m *Memory) DelegationRewards(_ context.Context, hash string) (DelegationRewards, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.delegations.get(hash)
	if !ok {
		return DelegationRewards{}, fmt.Errorf("%w: delegation %s", ErrNotFound, hash)
	}
	minClaim := decimal.NewFromInt(1)
	monthly := d.Amount.Mul(d.APR).Div(decimal.NewFromInt(100)).Div(decimal.NewFromInt(12)).Round(8)
	return DelegationRewards{
		Hash:             hash,
		Accumulated:      d.AccumulatedRewards,
		NextRewardDate:   m.now().UTC().AddDate(0, 1, 0).Format("060102"),
		EstimatedMonthly: monthly,
		APR:              d.APR,
		CanClaim:         d.Status == "active" && d.AccumulatedRewards.GreaterThanOrEqual(minClaim),
		MinClaim:         minClaim,
	}, nil
}

// Validator implements ConditionIndex.
func (m *Memory) Validator(_ context.Context, node string) (Validator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.validators {
		if v.NodeAddr == node {
			return v, nil
		}
	}
	return Validator{}, fmt.Errorf("%w: validator %s", ErrNotFound, node)
}

// Validators implements ConditionIndex.
func (m *Memory) Validators(context.Context) ([]Validator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Validator, len(m.validators))
	copy(out, m.validators)
	return out, nil
}

// ServicePayments implements ConditionIndex.
func (m *Memory) ServicePayments(_ context.Context, owner string) ([]ServicePayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payments.list(func(p *ServicePayment) bool { return p.Owner == owner }), nil
}

// ServicePayment implements ConditionIndex.
func (m *Memory) ServicePayment(_ context.Context, hash string) (ServicePayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payments.find("service payment", hash)
}

func condString(c map[string]any, key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

func condDecimal(c map[string]any, key string) decimal.Decimal {
	switch v := c[key].(type) {
	case decimal.Decimal:
		return v
	case string:
		d, err := decimal.NewFromString(v)
		if err == nil {
			return d
		}
	case int:
		return decimal.NewFromInt(int64(v))
	case float64:
		return decimal.NewFromFloat(v)
	}
	return decimal.Zero
}

func condInt(c map[string]any, key string) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case decimal.Decimal:
		return int(v.IntPart())
	}
	return 0
}

func condBool(c map[string]any, key string) bool {
	b, _ := c[key].(bool)
	return b
}

func condStrings(c map[string]any, key string) []string {
	switch v := c[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
