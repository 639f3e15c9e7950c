package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig tunes the circuit breaker in front of the live ledger.
type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	MinRequests         uint32        `yaml:"min_requests"`
	FailureRatio        float64       `yaml:"failure_ratio"`
}

// DefaultBreakerConfig returns the breaker settings used when none are given.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 3,
		MinRequests:         10,
		FailureRatio:        0.5,
	}
}

// Switch routes calls to a live ledger and falls back to a deterministic one
// when the live side is unreachable or its breaker is open.
//
// Unbound calls fall back per call. A context returned by Bind pins one
// backend for every call made with it, so a composition never combines live
// and fallback data.
type Switch struct {
	primary  Ledger
	fallback Ledger
	cb       *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

type bindKey struct{}

type binding struct {
	sw   *Switch
	live bool
}

// NewSwitch creates a Switch over primary and fallback.
func NewSwitch(primary, fallback Ledger, cfg BreakerConfig, logger *zap.Logger) *Switch {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Switch{primary: primary, fallback: fallback, logger: logger}

	settings := gobreaker.Settings{
		Name:        "ledger",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)

			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures ||
				(counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureRatio)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ledger circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	s.cb = gobreaker.NewCircuitBreaker(settings)
	return s
}

// State reports the breaker state: "closed", "half-open" or "open".
func (s *Switch) State() string {
	return s.cb.State().String()
}

// Bind implements Binder. The live ledger is pinned unless the breaker is open.
func (s *Switch) Bind(ctx context.Context) context.Context {
	live := s.cb.State() != gobreaker.StateOpen
	return context.WithValue(ctx, bindKey{}, binding{sw: s, live: live})
}

// Live reports whether ctx is pinned to the live ledger. Unbound contexts
// report the backend the next call would try first.
func (s *Switch) Live(ctx context.Context) bool {
	if b, ok := ctx.Value(bindKey{}).(binding); ok && b.sw == s {
		return b.live
	}
	return s.cb.State() != gobreaker.StateOpen
}

func (s *Switch) executeLive(fn func(Ledger) (any, error)) (any, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return fn(s.primary)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res, err
}

func route[T any](ctx context.Context, s *Switch, method string, fn func(Ledger) (T, error)) (T, error) {
	call := func(l Ledger) (any, error) { return fn(l) }

	if b, ok := ctx.Value(bindKey{}).(binding); ok && b.sw == s {
		if !b.live {
			return fn(s.fallback)
		}
		res, err := s.executeLive(call)
		v, _ := res.(T)
		return v, err
	}

	if s.cb.State() != gobreaker.StateOpen {
		res, err := s.executeLive(call)
		if err == nil || !errors.Is(err, ErrUnavailable) {
			v, _ := res.(T)
			return v, err
		}
		s.logger.Warn("live ledger unavailable, using fallback",
			zap.String("method", method), zap.Error(err))
	}
	return fn(s.fallback)
}

func (s *Switch) Outputs(ctx context.Context, address, token string) ([]UTXO, error) {
	return route(ctx, s, "Outputs", func(l Ledger) ([]UTXO, error) { return l.Outputs(ctx, address, token) })
}

func (s *Switch) NetworkFee(ctx context.Context, network, token string) (FeeQuote, error) {
	return route(ctx, s, "NetworkFee", func(l Ledger) (FeeQuote, error) { return l.NetworkFee(ctx, network, token) })
}

func (s *Switch) MarketRate(ctx context.Context, sell, buy string) (decimal.Decimal, error) {
	return route(ctx, s, "MarketRate", func(l Ledger) (decimal.Decimal, error) { return l.MarketRate(ctx, sell, buy) })
}

func (s *Switch) Congestion(ctx context.Context) (decimal.Decimal, error) {
	return route(ctx, s, "Congestion", func(l Ledger) (decimal.Decimal, error) { return l.Congestion(ctx) })
}

func (s *Switch) Submit(ctx context.Context, tx *SignedTx) (string, error) {
	return route(ctx, s, "Submit", func(l Ledger) (string, error) { return l.Submit(ctx, tx) })
}

func (s *Switch) StakeLocks(ctx context.Context, owner string) ([]StakeLock, error) {
	return route(ctx, s, "StakeLocks", func(l Ledger) ([]StakeLock, error) { return l.StakeLocks(ctx, owner) })
}

func (s *Switch) StakeLock(ctx context.Context, hash string) (StakeLock, error) {
	return route(ctx, s, "StakeLock", func(l Ledger) (StakeLock, error) { return l.StakeLock(ctx, hash) })
}

func (s *Switch) StakeLockHistory(ctx context.Context, owner string, limit int) ([]HistoryEntry, error) {
	return route(ctx, s, "StakeLockHistory", func(l Ledger) ([]HistoryEntry, error) {
		return l.StakeLockHistory(ctx, owner, limit)
	})
}

func (s *Switch) ExchangeOrders(ctx context.Context, owner string) ([]ExchangeOrder, error) {
	return route(ctx, s, "ExchangeOrders", func(l Ledger) ([]ExchangeOrder, error) { return l.ExchangeOrders(ctx, owner) })
}

func (s *Switch) ExchangeOrder(ctx context.Context, hash string) (ExchangeOrder, error) {
	return route(ctx, s, "ExchangeOrder", func(l Ledger) (ExchangeOrder, error) { return l.ExchangeOrder(ctx, hash) })
}

func (s *Switch) Proposals(ctx context.Context, status string) ([]Proposal, error) {
	return route(ctx, s, "Proposals", func(l Ledger) ([]Proposal, error) { return l.Proposals(ctx, status) })
}

func (s *Switch) VotingResult(ctx context.Context, hash string) (VotingResult, error) {
	return route(ctx, s, "VotingResult", func(l Ledger) (VotingResult, error) { return l.VotingResult(ctx, hash) })
}

func (s *Switch) Votes(ctx context.Context, voter string) ([]Vote, error) {
	return route(ctx, s, "Votes", func(l Ledger) ([]Vote, error) { return l.Votes(ctx, voter) })
}

func (s *Switch) Delegations(ctx context.Context, owner string) ([]Delegation, error) {
	return route(ctx, s, "Delegations", func(l Ledger) ([]Delegation, error) { return l.Delegations(ctx, owner) })
}

func (s *Switch) DelegationRewards(ctx context.Context, hash string) (DelegationRewards, error) {
	return route(ctx, s, "DelegationRewards", func(l Ledger) (DelegationRewards, error) {
		return l.DelegationRewards(ctx, hash)
	})
}

func (s *Switch) Validator(ctx context.Context, node string) (Validator, error) {
	return route(ctx, s, "Validator", func(l Ledger) (Validator, error) { return l.Validator(ctx, node) })
}

func (s *Switch) Validators(ctx context.Context) ([]Validator, error) {
	return route(ctx, s, "Validators", func(l Ledger) ([]Validator, error) { return l.Validators(ctx) })
}

func (s *Switch) ServicePayments(ctx context.Context, owner string) ([]ServicePayment, error) {
	return route(ctx, s, "ServicePayments", func(l Ledger) ([]ServicePayment, error) { return l.ServicePayments(ctx, owner) })
}

func (s *Switch) ServicePayment(ctx context.Context, hash string) (ServicePayment, error) {
	return route(ctx, s, "ServicePayment", func(l Ledger) (ServicePayment, error) { return l.ServicePayment(ctx, hash) })
}
