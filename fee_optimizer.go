package composer

import (
	"context"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Priority scales the validator fee
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityBalanced Priority = "balanced"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
)

// CongestionSource reports the network congestion multiplier. The ledger
// port satisfies it.
type CongestionSource interface {
	Congestion(ctx context.Context) (decimal.Decimal, error)
}

// FixedCongestion always reports the same factor.
type FixedCongestion struct {
	Factor decimal.Decimal
}

func (f FixedCongestion) Congestion(context.Context) (decimal.Decimal, error) {
	return f.Factor, nil
}

// SimulatedCongestion draws factors in [0.8, 1.3] from a seeded generator.
type SimulatedCongestion struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedCongestion creates a simulated source seeded with seed.
func NewSimulatedCongestion(seed int64) *SimulatedCongestion {
	return &SimulatedCongestion{rng: rand.New(rand.NewSource(seed))}
}

func (s *SimulatedCongestion) Congestion(context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := 0.8 + s.rng.Float64()*0.5
	return decimal.NewFromFloat(f).Round(2), nil
}

// FeeOptimizer estimates and optimizes fees and chooses input sets.
type FeeOptimizer struct {
	schedule   FeeSchedule
	congestion CongestionSource
	logger     *zap.Logger
}

// NewFeeOptimizer creates an optimizer over schedule. A nil congestion
// source means a constant factor of 1.0.
func NewFeeOptimizer(schedule FeeSchedule, congestion CongestionSource, logger *zap.Logger) *FeeOptimizer {
	if congestion == nil {
		congestion = FixedCongestion{Factor: decimal.NewFromInt(1)}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeeOptimizer{schedule: schedule, congestion: congestion, logger: logger}
}

// Schedule returns the optimizer's fee tables.
func (o *FeeOptimizer) Schedule() FeeSchedule { return o.schedule }

// EstimateFee returns the static fee for txType in token: the base validator
// fee times the type multiplier, plus the token's network fee.
func (o *FeeOptimizer) EstimateFee(txType TxType, amount decimal.Decimal, token string) FeeStructure {
	validator := o.schedule.BaseValidatorFee.Mul(o.schedule.TypeMultiplier(txType))
	return NewFeeStructure(o.schedule.NetworkFee(token), validator, "")
}

// OptimizeFees scales the estimated validator fee by priority and current
// congestion, then clamps it to the token's band. The network fee is left
// as estimated. A failing congestion source counts as 1.0.
func (o *FeeOptimizer) OptimizeFees(ctx context.Context, txType TxType, amount decimal.Decimal, token string, priority Priority) (FeeStructure, error) {
	const op = "optimize_fees"
	if token == "" {
		return FeeStructure{}, newError(ErrInvalidTicker, op, nil)
	}
	if amount.IsNegative() {
		return FeeStructure{}, errorf(ErrFeeCalculation, op, "amount %s is negative", amount)
	}

	base := o.EstimateFee(txType, amount, token)

	congestion, err := o.congestion.Congestion(ctx)
	if err != nil || !congestion.IsPositive() {
		o.logger.Debug("congestion unavailable, using 1.0", zap.Error(err))
		congestion = decimal.NewFromInt(1)
	}

	validator := base.ValidatorFee.
		Mul(o.schedule.PriorityFactor(priority)).
		Mul(congestion)
	validator = o.schedule.Limit(token).Clamp(validator)

	o.logger.Debug("fees optimized",
		zap.String("type", string(txType)),
		zap.String("priority", string(priority)),
		zap.Stringer("congestion", congestion),
		zap.Stringer("validator_fee", validator))

	return NewFeeStructure(base.NetworkFee, validator, base.FeeAddress), nil
}
