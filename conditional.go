package composer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/SashaZezulinsky/cellframe-composer/ledger"
)

// Params is the validated parameter set of one conditional kind. The set of
// implementations is closed: one struct per kind, two for voting.
type Params interface {
	// Kind returns the conditional kind the parameters belong to.
	Kind() Kind
	// Conditions returns the condition map carried by the output.
	Conditions() map[string]any

	validate(now time.Time) error
}

// Processor builds conditional outputs of one kind.
type Processor interface {
	TransactionType() Kind
	// ValidateParams checks raw parameters and returns them typed.
	ValidateParams(raw map[string]any) (Params, error)
	CreateConditionalOutput(value decimal.Decimal, p Params) (TransactionOutput, error)
}

// createConditional composes a transaction locking value in the output
// built by proc from p.
func (c *Composer) createConditional(ctx context.Context, proc Processor, op string, value, fee decimal.Decimal, p Params) (string, error) {
	return c.conditionalCall(ctx, proc.TransactionType(), op, func(ctx context.Context) (*Transaction, error) {
		return c.conditionalLocked(ctx, proc, op, value, fee, p, nil)
	})
}

// checker is implemented by processors that check parameters against ledger
// records before composing.
type checker interface {
	checkLocked(ctx context.Context, op string, p Params) error
}

// conditionalLocked validates p, computes fees, builds the conditional
// output and funds it. Outputs are [conditional, fee?, validator_fee?,
// coin_back(s)?].
func (c *Composer) conditionalLocked(ctx context.Context, proc Processor, op string, value, fee decimal.Decimal, p Params, pool *inputPool) (*Transaction, error) {
	if p == nil {
		return nil, errorf(ErrConditionalTransaction, op, "parameters are required")
	}
	if p.Kind() != proc.TransactionType() {
		return nil, errorf(ErrConditionalTransaction, op, "%s parameters passed to %s processor", p.Kind(), proc.TransactionType())
	}
	if err := p.validate(c.now()); err != nil {
		return nil, newError(ErrConditionalTransaction, op, err)
	}
	if value.IsNegative() {
		return nil, errorf(ErrConditionalTransaction, op, "value %s is negative", value)
	}
	if ch, ok := proc.(checker); ok {
		if err := ch.checkLocked(ctx, op, p); err != nil {
			return nil, err
		}
	}

	out, err := proc.CreateConditionalOutput(value, p)
	if err != nil {
		return nil, asKind(ErrConditionalTransaction, op, err)
	}

	fees, err := c.calculateFeesLocked(ctx, op, out.Token, fee)
	if err != nil {
		return nil, err
	}

	return c.composeLocked(ctx, draft{
		op:      op,
		txType:  proc.TransactionType().TxType(),
		outputs: []TransactionOutput{out},
		fee:     fees,
		pool:    pool,
	})
}

// settleLocked spends conditional outpoints into outputs, paying fee from
// the wallet's native outputs.
func (c *Composer) settleLocked(ctx context.Context, kind Kind, op, operation string, fee decimal.Decimal, spend []TransactionInput, outputs []TransactionOutput) (*Transaction, error) {
	fees, err := c.calculateFeesLocked(ctx, op, c.NativeTicker(), fee)
	if err != nil {
		return nil, err
	}
	return c.composeLocked(ctx, draft{
		op:        op,
		txType:    kind.TxType(),
		operation: operation,
		outputs:   outputs,
		spend:     spend,
		fee:       fees,
	})
}

// conditionalCall runs fn under the composition lock and reports the result.
func (c *Composer) conditionalCall(ctx context.Context, kind Kind, op string, fn func(ctx context.Context) (*Transaction, error)) (string, error) {
	var tx *Transaction
	err := c.withLock(ctx, func(ctx context.Context) error {
		var err error
		tx, err = fn(ctx)
		return err
	})
	err = conditionalErr(op, err)
	c.metrics.observeComposition(kind.TxType(), c.NativeTicker(), tx, err)
	if err != nil {
		return "", c.fail(op, err, zap.String("kind", string(kind)))
	}
	c.logger.Info("conditional transaction created",
		zap.String("op", op), zap.String("kind", string(kind)), zap.String("hash", tx.Hash))
	return tx.Hash, nil
}

// query runs a condition-index lookup with the ledger pinned.
func query[T any](ctx context.Context, c *Composer, op string, fn func(ctx context.Context, l ledger.Ledger) (T, error)) (T, error) {
	var out T
	err := c.withLock(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx, c.ledger)
		return err
	})
	if err != nil {
		return out, c.fail(op, conditionalErr(op, err))
	}
	return out, nil
}

// conditionalErr marks err as a conditional-transaction failure, keeping
// its original kind matchable.
func conditionalErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrConditionalTransaction) {
		return err
	}
	return newError(ErrConditionalTransaction, op, err)
}

func (c *Composer) owner(address string) string {
	if address == "" {
		return c.address
	}
	return address
}

// Raw parameter decoding

func missingParams(kind Kind, raw map[string]any, required ...string) error {
	var missing []string
	for _, k := range required {
		v, ok := raw[k]
		if !ok || v == nil {
			missing = append(missing, k)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return errorf(ErrConditionalTransaction, "validate_params",
		"missing required parameters for %s: [%s]", kind, strings.Join(missing, ", "))
}

func paramString(raw map[string]any, key string) (string, error) {
	switch v := raw[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	}
	return "", fmt.Errorf("parameter %s: unsupported type %T", key, raw[key])
}

func paramDecimal(raw map[string]any, key string) (decimal.Decimal, error) {
	switch v := raw[key].(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return v, nil
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero, nil
		}
		return *v, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, fmt.Errorf("parameter %s: %w", key, err)
		}
		return d, nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	}
	return decimal.Zero, fmt.Errorf("parameter %s: unsupported type %T", key, raw[key])
}

func paramInt(raw map[string]any, key string) (int, error) {
	switch v := raw[key].(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("parameter %s: %v is not an integer", key, v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("parameter %s: %w", key, err)
		}
		return n, nil
	case decimal.Decimal:
		if !v.IsInteger() {
			return 0, fmt.Errorf("parameter %s: %s is not an integer", key, v)
		}
		return int(v.IntPart()), nil
	}
	return 0, fmt.Errorf("parameter %s: unsupported type %T", key, raw[key])
}

func paramBool(raw map[string]any, key string) (bool, error) {
	switch v := raw[key].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("parameter %s: %w", key, err)
		}
		return b, nil
	}
	return false, fmt.Errorf("parameter %s: unsupported type %T", key, raw[key])
}

func paramStrings(raw map[string]any, key string) ([]string, error) {
	switch v := raw[key].(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %s: element of type %T is not a string", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("parameter %s: unsupported type %T", key, raw[key])
}

// paramDuration reads seconds (number) or a duration string such as "2h".
func paramDuration(raw map[string]any, key string) (time.Duration, error) {
	switch v := raw[key].(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d, nil
		}
	}
	n, err := paramInt(raw, key)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

// decodeParams runs the decoders in order and reports the first failure as
// a conditional-transaction error.
func decodeParams(decoders ...func() error) error {
	for _, d := range decoders {
		if err := d(); err != nil {
			return newError(ErrConditionalTransaction, "validate_params", err)
		}
	}
	return nil
}

// Date helpers for YYMMDD strings

const dateLayout = "060102"

func parseDate(s string) (time.Time, error) {
	if len(s) != len(dateLayout) {
		return time.Time{}, fmt.Errorf("date %q is not in YYMMDD format", s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return time.Time{}, fmt.Errorf("date %q is not in YYMMDD format", s)
		}
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is not a calendar date", s)
	}
	return t, nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// monthsBetween counts whole months from -> to, zero when to is not later.
func monthsBetween(from, to time.Time) int64 {
	months := int64(to.Year()-from.Year())*12 + int64(to.Month()-from.Month())
	if to.Day() < from.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
