package composer

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/SashaZezulinsky/cellframe-composer/ledger"
)

// ConditionalProcessor routes conditional transactions to the processor of
// their kind.
type ConditionalProcessor struct {
	c *Composer

	stakeLock      *StakeLockProcessor
	exchange       *ExchangeProcessor
	voting         *VotingProcessor
	servicePayment *ServicePaymentProcessor
	delegation     *DelegationProcessor

	processors map[Kind]Processor
}

// NewConditionalProcessor creates one processor of every kind over c.
func NewConditionalProcessor(c *Composer) *ConditionalProcessor {
	cp := &ConditionalProcessor{
		c:              c,
		stakeLock:      NewStakeLockProcessor(c),
		exchange:       NewExchangeProcessor(c),
		voting:         NewVotingProcessor(c),
		servicePayment: NewServicePaymentProcessor(c),
		delegation:     NewDelegationProcessor(c),
	}
	cp.processors = map[Kind]Processor{
		KindStakeLock:      cp.stakeLock,
		KindExchange:       cp.exchange,
		KindVoting:         cp.voting,
		KindServicePayment: cp.servicePayment,
		KindDelegation:     cp.delegation,
	}
	return cp
}

func (cp *ConditionalProcessor) StakeLock() *StakeLockProcessor           { return cp.stakeLock }
func (cp *ConditionalProcessor) Exchange() *ExchangeProcessor             { return cp.exchange }
func (cp *ConditionalProcessor) Voting() *VotingProcessor                 { return cp.voting }
func (cp *ConditionalProcessor) ServicePayment() *ServicePaymentProcessor { return cp.servicePayment }
func (cp *ConditionalProcessor) Delegation() *DelegationProcessor         { return cp.delegation }

// Processor returns the processor of kind.
func (cp *ConditionalProcessor) Processor(kind Kind) (Processor, error) {
	p, ok := cp.processors[kind]
	if !ok {
		return nil, errorf(ErrConditionalTransaction, "processor", "unsupported conditional kind %q", kind)
	}
	return p, nil
}

// ValidateParams validates raw parameters for kind.
func (cp *ConditionalProcessor) ValidateParams(kind Kind, raw map[string]any) (Params, error) {
	p, err := cp.Processor(kind)
	if err != nil {
		return nil, err
	}
	return p.ValidateParams(raw)
}

// CreateConditionalTransaction validates raw for kind and composes the
// transaction. Invalid parameters fail before any ledger access.
func (cp *ConditionalProcessor) CreateConditionalTransaction(ctx context.Context, kind Kind, value, fee decimal.Decimal, raw map[string]any) (string, error) {
	const op = "create_conditional_transaction"
	params, err := cp.ValidateParams(kind, raw)
	if err != nil {
		return "", cp.c.fail(op, err, zap.String("kind", string(kind)))
	}
	return cp.Create(ctx, value, fee, params)
}

// Create composes a transaction from typed parameters.
func (cp *ConditionalProcessor) Create(ctx context.Context, value, fee decimal.Decimal, params Params) (string, error) {
	if params == nil {
		return "", errorf(ErrConditionalTransaction, "create_conditional_transaction", "parameters are required")
	}
	switch params.Kind() {
	case KindStakeLock:
		return cp.stakeLock.CreateConditionalTransaction(ctx, value, fee, params)
	case KindExchange:
		return cp.exchange.CreateConditionalTransaction(ctx, value, fee, params)
	case KindVoting:
		return cp.voting.CreateConditionalTransaction(ctx, value, fee, params)
	case KindServicePayment:
		return cp.servicePayment.CreateConditionalTransaction(ctx, value, fee, params)
	case KindDelegation:
		return cp.delegation.CreateConditionalTransaction(ctx, value, fee, params)
	}
	return "", errorf(ErrConditionalTransaction, "create_conditional_transaction", "unsupported conditional kind %q", params.Kind())
}

// createLocked composes a conditional transaction with the lock held,
// drawing inputs from pool when it holds the needed token.
func (cp *ConditionalProcessor) createLocked(ctx context.Context, kind Kind, value, fee decimal.Decimal, raw map[string]any, pool *inputPool) (*Transaction, error) {
	const op = "create_conditional_transaction"
	proc, err := cp.Processor(kind)
	if err != nil {
		return nil, err
	}
	params, err := proc.ValidateParams(raw)
	if err != nil {
		return nil, err
	}
	return cp.c.conditionalLocked(ctx, proc, op, value, fee, params, pool)
}

// Compatibility shortcuts

func (cp *ConditionalProcessor) CreateExchangeOrder(ctx context.Context, tokenSell, tokenBuy string, amount, rate, fee decimal.Decimal) (string, error) {
	return cp.exchange.CreateExchangeOrder(ctx, tokenSell, tokenBuy, amount, rate, fee)
}

func (cp *ConditionalProcessor) CreateStakeLockOrder(ctx context.Context, amount decimal.Decimal, lockTime string, reinvestPercent, fee decimal.Decimal) (string, error) {
	return cp.stakeLock.CreateStakeLockOrder(ctx, amount, lockTime, reinvestPercent, fee)
}

func (cp *ConditionalProcessor) CreateVotingProposal(ctx context.Context, question string, options []string, maxVotes int, fee decimal.Decimal) (string, error) {
	return cp.voting.CreateVotingProposal(ctx, question, options, maxVotes, fee, "")
}

func (cp *ConditionalProcessor) CreateVoteTransaction(ctx context.Context, votingHash, option string, fee decimal.Decimal) (string, error) {
	return cp.voting.CreateVoteTransaction(ctx, votingHash, option, fee, 1)
}

func (cp *ConditionalProcessor) PartialUnlock(ctx context.Context, lockHash string, amount, fee decimal.Decimal) (string, error) {
	return cp.stakeLock.PartialUnlock(ctx, lockHash, amount, fee)
}

func (cp *ConditionalProcessor) CompoundRewards(ctx context.Context, lockHash string, percent, fee decimal.Decimal) (string, error) {
	return cp.stakeLock.CompoundRewards(ctx, lockHash, percent, fee)
}

func (cp *ConditionalProcessor) EmergencyUnlock(ctx context.Context, lockHash, reason string, fee decimal.Decimal) (string, error) {
	return cp.stakeLock.EmergencyUnlock(ctx, lockHash, reason, fee)
}

func (cp *ConditionalProcessor) GetStakeLocks(ctx context.Context, owner string) ([]ledger.StakeLock, error) {
	return cp.stakeLock.GetStakeLocks(ctx, owner)
}

func (cp *ConditionalProcessor) GetExchangeOrders(ctx context.Context, owner string) ([]ledger.ExchangeOrder, error) {
	return cp.exchange.GetExchangeOrders(ctx, owner)
}

func (cp *ConditionalProcessor) GetVotingProposals(ctx context.Context, status string) ([]ledger.Proposal, error) {
	return cp.voting.GetVotingProposals(ctx, status)
}

func (cp *ConditionalProcessor) GetDelegations(ctx context.Context, owner string) ([]ledger.Delegation, error) {
	return cp.delegation.GetDelegations(ctx, owner)
}

func (cp *ConditionalProcessor) GetServicePayments(ctx context.Context, owner string) ([]ledger.ServicePayment, error) {
	return cp.servicePayment.GetServicePayments(ctx, owner)
}

// ConditionalOperations summarises a wallet's conditional records.
type ConditionalOperations struct {
	StakeLocks      []ledger.StakeLock      `json:"stake_locks"`
	ExchangeOrders  []ledger.ExchangeOrder  `json:"exchange_orders"`
	Delegations     []ledger.Delegation     `json:"delegations"`
	ServicePayments []ledger.ServicePayment `json:"service_payments"`
	VotesCast       []ledger.Vote           `json:"votes_cast"`
}

// GetAllConditionalOperations collects the conditional records of owner,
// the composing wallet when empty.
func (cp *ConditionalProcessor) GetAllConditionalOperations(ctx context.Context, owner string) (ConditionalOperations, error) {
	owner = cp.c.owner(owner)
	return query(ctx, cp.c, "get_all_conditional_operations", func(ctx context.Context, l ledger.Ledger) (ConditionalOperations, error) {
		var (
			ops ConditionalOperations
			err error
		)
		if ops.StakeLocks, err = l.StakeLocks(ctx, owner); err != nil {
			return ops, err
		}
		if ops.ExchangeOrders, err = l.ExchangeOrders(ctx, owner); err != nil {
			return ops, err
		}
		if ops.Delegations, err = l.Delegations(ctx, owner); err != nil {
			return ops, err
		}
		if ops.ServicePayments, err = l.ServicePayments(ctx, owner); err != nil {
			return ops, err
		}
		ops.VotesCast, err = l.Votes(ctx, owner)
		return ops, err
	})
}
