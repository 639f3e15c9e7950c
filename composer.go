package composer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/SashaZezulinsky/cellframe-composer/ledger"
	"github.com/SashaZezulinsky/cellframe-composer/wallet"
)

// Composer builds transactions for one wallet on one network. Every
// composition runs under a single mutex, ledger round trips included.
type Composer struct {
	mu     sync.Mutex
	closed bool

	address string
	cfg     ComposeConfig
	ledger  ledger.Ledger
	signer  wallet.Signer
	fees    FeeSchedule
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Composer
type Option func(*Composer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Composer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(c *Composer) { c.metrics = m }
}

// WithFeeSchedule replaces the static fee tables.
func WithFeeSchedule(s FeeSchedule) Option {
	return func(c *Composer) { c.fees = s }
}

// WithClock sets the clock used for date arithmetic.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Composer for signer's wallet on cfg's network.
func New(cfg ComposeConfig, signer wallet.Signer, l ledger.Ledger, opts ...Option) (*Composer, error) {
	// Validate parameters
	if cfg.NetName == "" {
		return nil, errors.New("network name is required")
	}
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if l == nil {
		return nil, errors.New("ledger is required")
	}

	c := &Composer{
		address: signer.Address(),
		cfg:     cfg,
		ledger:  l,
		signer:  signer,
		fees:    DefaultFeeSchedule(),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("wallet", c.address), zap.String("network", cfg.NetName))
	return c, nil
}

// Address returns the composing wallet's address.
func (c *Composer) Address() string { return c.address }

// Config returns the network configuration.
func (c *Composer) Config() ComposeConfig { return c.cfg }

// FeeSchedule returns the static fee tables in use.
func (c *Composer) FeeSchedule() FeeSchedule { return c.fees }

// Ledger returns the ledger port.
func (c *Composer) Ledger() ledger.Ledger { return c.ledger }

// NativeTicker returns the network's fee token.
func (c *Composer) NativeTicker() string {
	return c.fees.NativeTicker(c.cfg.NetName)
}

// Close releases the Composer. Later calls fail with ErrComposerClosed.
func (c *Composer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// withLock runs fn holding the composition lock with the ledger backend
// pinned for the whole call.
func (c *Composer) withLock(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return newError(ErrComposerClosed, "", nil)
	}
	return fn(ledger.Bind(ctx, c.ledger))
}

// fail logs a failed operation once at the API boundary.
func (c *Composer) fail(op string, err error, fields ...zap.Field) error {
	if err == nil {
		return nil
	}
	c.logger.Error(op+" failed", append(fields, zap.Error(err))...)
	return err
}

// CalculateFees returns the fee for a transaction in token with the given
// validator fee. The network fee comes from the ledger; when the ledger is
// unavailable the static schedule is used.
func (c *Composer) CalculateFees(ctx context.Context, token string, validatorFee decimal.Decimal) (FeeStructure, error) {
	var fee FeeStructure
	err := c.withLock(ctx, func(ctx context.Context) error {
		var err error
		fee, err = c.calculateFeesLocked(ctx, "calculate_fees", token, validatorFee)
		return err
	})
	return fee, c.fail("calculate_fees", err, zap.String("token", token))
}

func (c *Composer) calculateFeesLocked(ctx context.Context, op, token string, validatorFee decimal.Decimal) (FeeStructure, error) {
	if token == "" {
		return FeeStructure{}, newError(ErrInvalidTicker, op, nil)
	}
	if validatorFee.IsNegative() {
		return FeeStructure{}, errorf(ErrFeeCalculation, op, "validator fee %s is negative", validatorFee)
	}

	quote, err := c.ledger.NetworkFee(ctx, c.cfg.NetName, token)
	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		c.logger.Debug("network fee unavailable, using static schedule",
			zap.String("token", token), zap.Error(err))
		quote = ledger.FeeQuote{Fee: c.fees.NetworkFee(token)}
	case err != nil:
		return FeeStructure{}, newError(ErrFeeCalculation, op, err)
	}
	if quote.Fee.IsNegative() {
		return FeeStructure{}, errorf(ErrFeeCalculation, op, "network fee %s is negative", quote.Fee)
	}

	return NewFeeStructure(quote.Fee, validatorFee, quote.Address), nil
}

// GetAvailableOutputs lists the wallet's spendable outputs in token.
func (c *Composer) GetAvailableOutputs(ctx context.Context, token string) ([]TransactionInput, error) {
	var out []TransactionInput
	err := c.withLock(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.availableOutputsLocked(ctx, "get_available_outputs", token)
		return err
	})
	return out, c.fail("get_available_outputs", err, zap.String("token", token))
}

func (c *Composer) availableOutputsLocked(ctx context.Context, op, token string) ([]TransactionInput, error) {
	if token == "" {
		return nil, newError(ErrInvalidTicker, op, nil)
	}
	utxos, err := c.ledger.Outputs(ctx, c.address, token)
	if err != nil {
		return nil, newError(ErrInputSelection, op, err)
	}

	out := make([]TransactionInput, 0, len(utxos))
	for _, u := range utxos {
		t := u.Token
		if t == "" {
			t = token
		}
		out = append(out, TransactionInput{
			TxHash:      u.TxHash,
			OutputIndex: u.Index,
			Value:       u.Value,
			Token:       t,
		})
	}
	return out, nil
}

// SelectInputs picks inputs in token covering required: candidates sorted by
// value descending, accumulated until the requirement is met. A nil
// available list means the wallet's outputs are fetched from the ledger.
func (c *Composer) SelectInputs(ctx context.Context, required decimal.Decimal, token string, available []TransactionInput) ([]TransactionInput, decimal.Decimal, error) {
	var (
		selected []TransactionInput
		total    decimal.Decimal
	)
	err := c.withLock(ctx, func(ctx context.Context) error {
		if token == "" {
			return newError(ErrInvalidTicker, "select_inputs", nil)
		}
		candidates := available
		if candidates == nil {
			var err error
			if candidates, err = c.availableOutputsLocked(ctx, "select_inputs", token); err != nil {
				return err
			}
		}
		var err error
		selected, total, err = selectGreedy("select_inputs", required, token, candidates)
		return err
	})
	return selected, total, c.fail("select_inputs", err, zap.String("token", token), zap.Stringer("required", required))
}

// selectGreedy returns the value-descending prefix of token candidates that
// first reaches required.
func selectGreedy(op string, required decimal.Decimal, token string, candidates []TransactionInput) ([]TransactionInput, decimal.Decimal, error) {
	if required.IsNegative() {
		return nil, decimal.Zero, errorf(ErrInputSelection, op, "required amount %s is negative", required)
	}

	sorted := filterToken(candidates, token)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value.GreaterThan(sorted[j].Value)
	})

	var selected []TransactionInput
	total := decimal.Zero
	for _, in := range sorted {
		if total.GreaterThanOrEqual(required) {
			break
		}
		selected = append(selected, in)
		total = total.Add(in.Value)
	}
	if total.LessThan(required) {
		return nil, decimal.Zero, insufficient(op, token, required, total)
	}
	return selected, total, nil
}

func filterToken(candidates []TransactionInput, token string) []TransactionInput {
	out := make([]TransactionInput, 0, len(candidates))
	for _, in := range candidates {
		if in.Token == token {
			out = append(out, in)
		}
	}
	return out
}

// EstimateFee returns the static estimate for txType with the live network
// fee applied when the ledger has one.
func (c *Composer) EstimateFee(ctx context.Context, txType TxType, amount decimal.Decimal, token string) (FeeStructure, error) {
	est := NewFeeOptimizer(c.fees, nil, c.logger).EstimateFee(txType, amount, token)
	var fee FeeStructure
	err := c.withLock(ctx, func(ctx context.Context) error {
		var err error
		fee, err = c.calculateFeesLocked(ctx, "estimate_fee", token, est.ValidatorFee)
		return err
	})
	return fee, c.fail("estimate_fee", err, zap.String("token", token))
}
