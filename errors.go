package composer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrComposition is the root of every composition failure.
	ErrComposition = errors.New("composition failed")

	ErrFeeCalculation         = errors.New("fee calculation failed")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInputSelection         = errors.New("input selection failed")
	ErrOutputCreation         = errors.New("output creation failed")
	ErrAssembly               = errors.New("transaction assembly failed")
	ErrTemplate               = errors.New("template failed")
	ErrBatchProcessing        = errors.New("batch processing failed")
	ErrConditionalTransaction = errors.New("conditional transaction failed")
	ErrInvalidTicker          = errors.New("invalid token ticker")
	ErrComposerClosed         = errors.New("composer is closed")

	// ErrInsufficientFundsInBatch marks a batch item the jointly selected
	// input pool could no longer cover.
	ErrInsufficientFundsInBatch = fmt.Errorf("%w in batch", ErrInsufficientFunds)
)

// ComposeError carries the context of a failed composition. It matches its
// Kind, ErrComposition and the wrapped cause under errors.Is.
type ComposeError struct {
	Kind      error
	Op        string
	Token     string
	Required  decimal.Decimal
	Available decimal.Decimal
	Err       error
}

func (e *ComposeError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString(ErrComposition.Error())
	}
	if e.Token != "" {
		fmt.Fprintf(&b, " (token %s", e.Token)
		if !e.Required.IsZero() || !e.Available.IsZero() {
			fmt.Fprintf(&b, ", required %s, available %s", e.Required, e.Available)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ComposeError) Unwrap() []error {
	errs := []error{ErrComposition}
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(kind error, op string, err error) *ComposeError {
	return &ComposeError{Kind: kind, Op: op, Err: err}
}

func errorf(kind error, op, format string, args ...any) *ComposeError {
	return &ComposeError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func insufficient(op, token string, required, available decimal.Decimal) *ComposeError {
	return &ComposeError{
		Kind:      ErrInsufficientFunds,
		Op:        op,
		Token:     token,
		Required:  required,
		Available: available,
	}
}

// asKind wraps err as kind unless it already is a ComposeError.
func asKind(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ComposeError
	if errors.As(err, &ce) {
		return err
	}
	return newError(kind, op, err)
}
