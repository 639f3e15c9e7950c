package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/SashaZezulinsky/cellframe-composer/ledger"
)

// Penalty rates of early stake unlock
var (
	timePenaltyPerMonth  = dec("0.01")
	timePenaltyCap       = dec("0.25")
	amountPenaltyRate    = dec("0.05")
	compoundPenaltyRate  = dec("0.02")
	emergencyPenaltyRate = dec("0.4")
)

// Default number of history entries returned
const defaultHistoryLimit = 100

// StakeLockParams locks stake until LockTime (YYMMDD).
type StakeLockParams struct {
	LockTime        string
	ReinvestPercent decimal.Decimal
	DelegatedTicker string
	DelegatedValue  decimal.Decimal

	// SourceLock is set when the lock replaces an earlier one
	SourceLock     string
	CompoundAmount decimal.Decimal
}

func (StakeLockParams) Kind() Kind { return KindStakeLock }

func (p StakeLockParams) Conditions() map[string]any {
	m := map[string]any{
		"lock_time":        p.LockTime,
		"reinvest_percent": p.ReinvestPercent,
	}
	if p.DelegatedTicker != "" {
		m["delegated_ticker"] = p.DelegatedTicker
		m["delegated_value"] = p.DelegatedValue
	}
	if p.SourceLock != "" {
		m["source_lock"] = p.SourceLock
	}
	if p.CompoundAmount.IsPositive() {
		m["compound_amount"] = p.CompoundAmount
	}
	return m
}

func (p StakeLockParams) validate(now time.Time) error {
	if p.LockTime == "" {
		return errors.New("lock_time is required")
	}
	unlock, err := parseDate(p.LockTime)
	if err != nil {
		return err
	}
	// A replacement lock keeps the original unlock date
	if p.SourceLock == "" && !unlock.After(today(now)) {
		return fmt.Errorf("lock_time %s is not in the future", p.LockTime)
	}
	if p.ReinvestPercent.IsNegative() || p.ReinvestPercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("reinvest_percent %s is outside [0, 100]", p.ReinvestPercent)
	}
	if p.DelegatedValue.IsNegative() {
		return fmt.Errorf("delegated_value %s is negative", p.DelegatedValue)
	}
	return nil
}

// StakePenalties is the penalty breakdown of an early unlock.
type StakePenalties struct {
	UnlockAmount      decimal.Decimal
	TimePenalty       decimal.Decimal
	AmountPenalty     decimal.Decimal
	CompoundPenalty   decimal.Decimal
	TotalPenalty      decimal.Decimal
	NetAmount         decimal.Decimal
	PenaltyPercentage decimal.Decimal
}

// StakeLockProcessor handles stake lock outputs: creation, partial and
// emergency unlock, compounding and penalty calculation.
type StakeLockProcessor struct {
	c *Composer
}

// NewStakeLockProcessor creates a stake lock processor over c.
func NewStakeLockProcessor(c *Composer) *StakeLockProcessor {
	return &StakeLockProcessor{c: c}
}

func (p *StakeLockProcessor) TransactionType() Kind { return KindStakeLock }

// ValidateParams accepts lock_time (required), reinvest_percent,
// delegated_ticker and delegated_value.
func (p *StakeLockProcessor) ValidateParams(raw map[string]any) (Params, error) {
	if err := missingParams(KindStakeLock, raw, "lock_time"); err != nil {
		return nil, err
	}
	var out StakeLockParams
	err := decodeParams(
		func() (err error) { out.LockTime, err = paramString(raw, "lock_time"); return },
		func() (err error) { out.ReinvestPercent, err = paramDecimal(raw, "reinvest_percent"); return },
		func() (err error) { out.DelegatedTicker, err = paramString(raw, "delegated_ticker"); return },
		func() (err error) { out.DelegatedValue, err = paramDecimal(raw, "delegated_value"); return },
	)
	if err != nil {
		return nil, err
	}
	if err := out.validate(p.c.now()); err != nil {
		return nil, newError(ErrConditionalTransaction, "validate_params", err)
	}
	return out, nil
}

// CreateConditionalOutput locks value of the native token to the wallet.
func (p *StakeLockProcessor) CreateConditionalOutput(value decimal.Decimal, params Params) (TransactionOutput, error) {
	sp, ok := params.(StakeLockParams)
	if !ok {
		return TransactionOutput{}, errorf(ErrConditionalTransaction, "create_conditional_output", "unexpected %T", params)
	}
	return TransactionOutput{
		Address:    p.c.address,
		Value:      value,
		Token:      p.c.NativeTicker(),
		Type:       ConditionalOutput(KindStakeLock),
		Conditions: sp.Conditions(),
	}, nil
}

// CreateConditionalTransaction composes a stake lock of value.
func (p *StakeLockProcessor) CreateConditionalTransaction(ctx context.Context, value, fee decimal.Decimal, params Params) (string, error) {
	return p.c.createConditional(ctx, p, "create_stake_lock", value, fee, params)
}

// CreateStakeLockOrder locks amount until lockTime (YYMMDD).
func (p *StakeLockProcessor) CreateStakeLockOrder(ctx context.Context, amount decimal.Decimal, lockTime string, reinvestPercent, fee decimal.Decimal) (string, error) {
	return p.c.createConditional(ctx, p, "create_stake_lock_order", amount, fee, StakeLockParams{
		LockTime:        lockTime,
		ReinvestPercent: reinvestPercent,
	})
}

// GetStakeLocks lists stake locks of owner, the composing wallet when empty.
func (p *StakeLockProcessor) GetStakeLocks(ctx context.Context, owner string) ([]ledger.StakeLock, error) {
	return query(ctx, p.c, "get_stake_locks", func(ctx context.Context, l ledger.Ledger) ([]ledger.StakeLock, error) {
		return l.StakeLocks(ctx, p.c.owner(owner))
	})
}

// GetStakeLockInfo returns one stake lock.
func (p *StakeLockProcessor) GetStakeLockInfo(ctx context.Context, lockHash string) (ledger.StakeLock, error) {
	return query(ctx, p.c, "get_stake_lock_info", func(ctx context.Context, l ledger.Ledger) (ledger.StakeLock, error) {
		return l.StakeLock(ctx, lockHash)
	})
}

// GetStakeLockHistory returns up to limit stake lock operations of owner,
// newest first. A non-positive limit means 100.
func (p *StakeLockProcessor) GetStakeLockHistory(ctx context.Context, owner string, limit int) ([]ledger.HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return query(ctx, p.c, "get_stake_lock_history", func(ctx context.Context, l ledger.Ledger) ([]ledger.HistoryEntry, error) {
		return l.StakeLockHistory(ctx, p.c.owner(owner), limit)
	})
}

// Penalties computes the penalties of unlocking unlock from lock today:
//
//	time     = u * min(0.25, 0.01 * months remaining)
//	amount   = u * min(u/locked, 1) * 0.05
//	compound = min(compounded, u) * 0.02
//
// The net amount never goes below zero.
func (p *StakeLockProcessor) Penalties(lock ledger.StakeLock, unlock decimal.Decimal) StakePenalties {
	u := unlock
	res := StakePenalties{
		UnlockAmount:      u,
		TimePenalty:       decimal.Zero,
		AmountPenalty:     decimal.Zero,
		CompoundPenalty:   decimal.Zero,
		TotalPenalty:      decimal.Zero,
		NetAmount:         decimal.Zero,
		PenaltyPercentage: decimal.Zero,
	}
	if !u.IsPositive() {
		return res
	}

	if unlockDate, err := parseDate(lock.LockTime); err == nil {
		months := decimal.NewFromInt(monthsBetween(today(p.c.now()), unlockDate))
		rate := decimal.Min(timePenaltyCap, timePenaltyPerMonth.Mul(months))
		res.TimePenalty = u.Mul(rate)
	}

	if lock.Amount.IsPositive() {
		ratio := decimal.Min(u.Div(lock.Amount), decimal.NewFromInt(1))
		res.AmountPenalty = u.Mul(ratio).Mul(amountPenaltyRate)
	}

	if compounded := lock.Compounded(); compounded.IsPositive() {
		res.CompoundPenalty = decimal.Min(compounded, u).Mul(compoundPenaltyRate)
	}

	res.TotalPenalty = res.TimePenalty.Add(res.AmountPenalty).Add(res.CompoundPenalty)
	res.NetAmount = decimal.Max(u.Sub(res.TotalPenalty), decimal.Zero)
	res.PenaltyPercentage = res.TotalPenalty.Div(u).Mul(decimal.NewFromInt(100))
	return res
}

// CalculateStakePenalties returns the penalty breakdown of unlocking
// unlockAmount from the lock; zero means the whole lock.
func (p *StakeLockProcessor) CalculateStakePenalties(ctx context.Context, lockHash string, unlockAmount decimal.Decimal) (StakePenalties, error) {
	const op = "calculate_stake_penalties"
	if unlockAmount.IsNegative() {
		return StakePenalties{}, errorf(ErrConditionalTransaction, op, "unlock amount %s is negative", unlockAmount)
	}
	lock, err := p.GetStakeLockInfo(ctx, lockHash)
	if err != nil {
		return StakePenalties{}, err
	}
	if unlockAmount.IsZero() {
		unlockAmount = lock.Amount
	}
	if unlockAmount.GreaterThan(lock.Amount) {
		return StakePenalties{}, errorf(ErrConditionalTransaction, op,
			"unlock amount %s exceeds locked %s", unlockAmount, lock.Amount)
	}
	return p.Penalties(lock, unlockAmount), nil
}

func (p *StakeLockProcessor) activeLockLocked(ctx context.Context, op, lockHash string) (ledger.StakeLock, error) {
	lock, err := p.c.ledger.StakeLock(ctx, lockHash)
	if err != nil {
		return ledger.StakeLock{}, newError(ErrConditionalTransaction, op, err)
	}
	if lock.Status != "active" {
		return ledger.StakeLock{}, errorf(ErrConditionalTransaction, op, "stake lock %s is %s", lockHash, lock.Status)
	}
	return lock, nil
}

func lockOutpoint(lock ledger.StakeLock) TransactionInput {
	return TransactionInput{TxHash: lock.Hash, OutputIndex: 0, Value: lock.Amount, Token: lock.Token}
}

func penaltyOutput(value decimal.Decimal, token string) TransactionOutput {
	return TransactionOutput{Value: value, Token: token, Type: OutputPenalty}
}

// PartialUnlock releases amount from the lock. The lock is spent, the rest
// is locked again under the same date, the penalty is burned and the net
// amount is paid to the wallet.
func (p *StakeLockProcessor) PartialUnlock(ctx context.Context, lockHash string, amount, fee decimal.Decimal) (string, error) {
	const op = "partial_unlock"
	if !amount.IsPositive() {
		return "", p.c.fail(op, errorf(ErrConditionalTransaction, op, "unlock amount %s must be positive", amount))
	}

	return p.c.conditionalCall(ctx, KindStakeLock, op, func(ctx context.Context) (*Transaction, error) {
		lock, err := p.activeLockLocked(ctx, op, lockHash)
		if err != nil {
			return nil, err
		}
		if !lock.PartialUnlockAllowed {
			return nil, errorf(ErrConditionalTransaction, op, "partial unlock is not allowed for %s", lockHash)
		}
		if amount.GreaterThanOrEqual(lock.Amount) {
			return nil, errorf(ErrConditionalTransaction, op,
				"unlock amount %s must be less than locked %s", amount, lock.Amount)
		}

		pen := p.Penalties(lock, amount)
		relock := StakeLockParams{
			LockTime:        lock.LockTime,
			ReinvestPercent: lock.ReinvestPercent,
			SourceLock:      lock.Hash,
		}
		if err := relock.validate(p.c.now()); err != nil {
			return nil, newError(ErrConditionalTransaction, op, err)
		}

		outputs := []TransactionOutput{{
			Address:    p.c.address,
			Value:      lock.Amount.Sub(amount),
			Token:      lock.Token,
			Type:       ConditionalOutput(KindStakeLock),
			Conditions: relock.Conditions(),
		}}
		if pen.NetAmount.IsPositive() {
			outputs = append(outputs, TransactionOutput{
				Address: p.c.address,
				Value:   pen.NetAmount,
				Token:   lock.Token,
				Type:    OutputRegular,
			})
		}
		if burned := amount.Sub(pen.NetAmount); burned.IsPositive() {
			outputs = append(outputs, penaltyOutput(burned, lock.Token))
		}

		p.c.logger.Debug("partial unlock",
			zap.String("lock", lockHash),
			zap.Stringer("amount", amount),
			zap.Stringer("penalty", pen.TotalPenalty))
		return p.c.settleLocked(ctx, KindStakeLock, op, ledger.OpPartialUnlock, fee,
			[]TransactionInput{lockOutpoint(lock)}, outputs)
	})
}

// CompoundRewards folds percent of the lock's accumulated rewards into a
// new lock with the same date; the rest of the rewards is paid out.
func (p *StakeLockProcessor) CompoundRewards(ctx context.Context, lockHash string, percent, fee decimal.Decimal) (string, error) {
	const op = "compound_rewards"
	if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return "", p.c.fail(op, errorf(ErrConditionalTransaction, op, "compound percent %s is outside [0, 100]", percent))
	}

	return p.c.conditionalCall(ctx, KindStakeLock, op, func(ctx context.Context) (*Transaction, error) {
		lock, err := p.activeLockLocked(ctx, op, lockHash)
		if err != nil {
			return nil, err
		}
		rewards := lock.AccumulatedRewards
		if !rewards.IsPositive() {
			return nil, errorf(ErrConditionalTransaction, op, "no rewards available for compounding")
		}
		compound := rewards.Mul(percent).Div(decimal.NewFromInt(100))

		relock := StakeLockParams{
			LockTime:        lock.LockTime,
			ReinvestPercent: lock.ReinvestPercent,
			SourceLock:      lock.Hash,
			CompoundAmount:  compound,
		}
		outputs := []TransactionOutput{{
			Address:    p.c.address,
			Value:      lock.Amount.Add(compound),
			Token:      lock.Token,
			Type:       ConditionalOutput(KindStakeLock),
			Conditions: relock.Conditions(),
		}}
		if paid := rewards.Sub(compound); paid.IsPositive() {
			outputs = append(outputs, TransactionOutput{
				Address: p.c.address,
				Value:   paid,
				Token:   lock.Token,
				Type:    OutputRegular,
			})
		}

		spend := []TransactionInput{
			lockOutpoint(lock),
			{TxHash: lock.Hash, OutputIndex: 1, Value: rewards, Token: lock.Token},
		}
		return p.c.settleLocked(ctx, KindStakeLock, op, ledger.OpCompound, fee, spend, outputs)
	})
}

// EmergencyUnlock releases the whole lock at a flat 40% penalty. The reason
// is required for the audit log.
func (p *StakeLockProcessor) EmergencyUnlock(ctx context.Context, lockHash, reason string, fee decimal.Decimal) (string, error) {
	const op = "emergency_unlock"
	if strings.TrimSpace(reason) == "" {
		return "", p.c.fail(op, errorf(ErrConditionalTransaction, op, "emergency reason is required"))
	}

	return p.c.conditionalCall(ctx, KindStakeLock, op, func(ctx context.Context) (*Transaction, error) {
		lock, err := p.activeLockLocked(ctx, op, lockHash)
		if err != nil {
			return nil, err
		}
		penalty := lock.Amount.Mul(emergencyPenaltyRate)
		unlock := lock.Amount.Sub(penalty)

		p.c.logger.Warn("emergency unlock",
			zap.String("lock", lockHash),
			zap.String("reason", reason),
			zap.Stringer("unlock_amount", unlock),
			zap.Stringer("penalty", penalty))

		var outputs []TransactionOutput
		if unlock.IsPositive() {
			outputs = append(outputs, TransactionOutput{
				Address: p.c.address,
				Value:   unlock,
				Token:   lock.Token,
				Type:    OutputRegular,
			})
		}
		if penalty.IsPositive() {
			outputs = append(outputs, penaltyOutput(penalty, lock.Token))
		}
		return p.c.settleLocked(ctx, KindStakeLock, op, ledger.OpEmergencyUnlock, fee,
			[]TransactionInput{lockOutpoint(lock)}, outputs)
	})
}
