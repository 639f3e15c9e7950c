package composer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SashaZezulinsky/cellframe-composer/ledger"
)

// Service identifiers of the payment presets
const (
	StorageService   = "storage_service"
	ComputeService   = "compute_service"
	BandwidthService = "bandwidth_service"
)

// ServicePaymentParams describe a budget for a network service billed per
// unit.
type ServicePaymentParams struct {
	ServiceUID      string
	MaxPricePerUnit decimal.Decimal
	UnitType        string
	Timeout         time.Duration
	// Extra conditions passed through to the service
	Extra map[string]any
}

func (ServicePaymentParams) Kind() Kind { return KindServicePayment }

func (p ServicePaymentParams) Conditions() map[string]any {
	m := map[string]any{
		"service_uid":        p.ServiceUID,
		"max_price_per_unit": p.MaxPricePerUnit,
		"unit_type":          p.UnitType,
	}
	if p.Timeout > 0 {
		m["timeout"] = strconv.FormatInt(int64(p.Timeout/time.Second), 10)
	}
	if len(p.Extra) > 0 {
		m["additional_conditions"] = p.Extra
	}
	return m
}

func (p ServicePaymentParams) validate(time.Time) error {
	if p.ServiceUID == "" {
		return errors.New("service_uid is required")
	}
	if p.UnitType == "" {
		return errors.New("unit_type is required")
	}
	if !p.MaxPricePerUnit.IsPositive() {
		return fmt.Errorf("max_price_per_unit %s must be positive", p.MaxPricePerUnit)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("timeout %s is negative", p.Timeout)
	}
	for k, v := range p.Extra {
		if _, err := conditionValue(v); err != nil {
			return fmt.Errorf("condition %s: %w", k, err)
		}
	}
	return nil
}

// ServicePaymentProcessor pays for storage, compute, bandwidth and other
// network services.
type ServicePaymentProcessor struct {
	c *Composer
}

// NewServicePaymentProcessor creates a service payment processor over c.
func NewServicePaymentProcessor(c *Composer) *ServicePaymentProcessor {
	return &ServicePaymentProcessor{c: c}
}

func (p *ServicePaymentProcessor) TransactionType() Kind { return KindServicePayment }

// ValidateParams accepts service_uid, max_price_per_unit and unit_type
// (required), timeout in seconds and a conditions map.
func (p *ServicePaymentProcessor) ValidateParams(raw map[string]any) (Params, error) {
	if err := missingParams(KindServicePayment, raw, "service_uid", "max_price_per_unit", "unit_type"); err != nil {
		return nil, err
	}
	var out ServicePaymentParams
	err := decodeParams(
		func() (err error) { out.ServiceUID, err = paramString(raw, "service_uid"); return },
		func() (err error) { out.MaxPricePerUnit, err = paramDecimal(raw, "max_price_per_unit"); return },
		func() (err error) { out.UnitType, err = paramString(raw, "unit_type"); return },
		func() (err error) { out.Timeout, err = paramDuration(raw, "timeout"); return },
		func() error {
			switch v := raw["conditions"].(type) {
			case nil:
			case map[string]any:
				out.Extra = v
			default:
				return fmt.Errorf("parameter conditions: unsupported type %T", v)
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	if err := out.validate(p.c.now()); err != nil {
		return nil, newError(ErrConditionalTransaction, "validate_params", err)
	}
	return out, nil
}

// CreateConditionalOutput locks the budget in the native token. The output
// has no address; the service provider claims it.
func (p *ServicePaymentProcessor) CreateConditionalOutput(value decimal.Decimal, params Params) (TransactionOutput, error) {
	sp, ok := params.(ServicePaymentParams)
	if !ok {
		return TransactionOutput{}, errorf(ErrConditionalTransaction, "create_conditional_output", "unexpected %T", params)
	}
	return TransactionOutput{
		Value:      value,
		Token:      p.c.NativeTicker(),
		Type:       ConditionalOutput(KindServicePayment),
		Conditions: sp.Conditions(),
	}, nil
}

// CreateConditionalTransaction composes a service payment of value.
func (p *ServicePaymentProcessor) CreateConditionalTransaction(ctx context.Context, value, fee decimal.Decimal, params Params) (string, error) {
	return p.c.createConditional(ctx, p, "create_service_payment", value, fee, params)
}

// CreateServicePayment locks amount for serviceUID billed per unitType at
// most maxPricePerUnit. A zero timeout means none.
func (p *ServicePaymentProcessor) CreateServicePayment(ctx context.Context, serviceUID string, maxPricePerUnit decimal.Decimal, unitType string, amount, fee decimal.Decimal, timeout time.Duration) (string, error) {
	return p.c.createConditional(ctx, p, "create_service_payment", amount, fee, ServicePaymentParams{
		ServiceUID:      serviceUID,
		MaxPricePerUnit: maxPricePerUnit,
		UnitType:        unitType,
		Timeout:         timeout,
	})
}

// CreateStoragePayment pays for sizeMB stored for days; units = MB * days.
func (p *ServicePaymentProcessor) CreateStoragePayment(ctx context.Context, sizeMB, pricePerMBDay decimal.Decimal, days int, fee decimal.Decimal) (string, error) {
	if days <= 0 {
		return "", p.c.fail("create_storage_payment",
			errorf(ErrConditionalTransaction, "create_storage_payment", "duration %d days must be positive", days))
	}
	units := sizeMB.Mul(decimal.NewFromInt(int64(days)))
	return p.CreateServicePayment(ctx, StorageService, pricePerMBDay, "MB_per_day",
		units.Mul(pricePerMBDay), fee, time.Duration(days)*24*time.Hour)
}

// CreateComputePayment pays for units of compute.
func (p *ServicePaymentProcessor) CreateComputePayment(ctx context.Context, units, pricePerUnit, fee decimal.Decimal, timeout time.Duration) (string, error) {
	return p.CreateServicePayment(ctx, ComputeService, pricePerUnit, "compute_unit",
		units.Mul(pricePerUnit), fee, timeout)
}

// CreateBandwidthPayment pays for gb of traffic within hours.
func (p *ServicePaymentProcessor) CreateBandwidthPayment(ctx context.Context, gb, pricePerGB, fee decimal.Decimal, hours int) (string, error) {
	if hours <= 0 {
		hours = 1
	}
	return p.CreateServicePayment(ctx, BandwidthService, pricePerGB, "GB",
		gb.Mul(pricePerGB), fee, time.Duration(hours)*time.Hour)
}

// CancelServicePayment spends an active payment, refunding the budget not
// yet consumed.
func (p *ServicePaymentProcessor) CancelServicePayment(ctx context.Context, paymentHash string, fee decimal.Decimal) (string, error) {
	const op = "cancel_service_payment"
	return p.c.conditionalCall(ctx, KindServicePayment, op, func(ctx context.Context) (*Transaction, error) {
		pay, err := p.c.ledger.ServicePayment(ctx, paymentHash)
		if err != nil {
			return nil, newError(ErrConditionalTransaction, op, err)
		}
		if pay.Status != "active" {
			return nil, errorf(ErrConditionalTransaction, op, "service payment %s is %s", paymentHash, pay.Status)
		}
		remaining := pay.RemainingBudget()
		if !remaining.IsPositive() {
			return nil, errorf(ErrConditionalTransaction, op, "service payment %s has no budget left", paymentHash)
		}

		spend := []TransactionInput{{TxHash: pay.Hash, OutputIndex: 0, Value: remaining, Token: pay.Token}}
		refund := []TransactionOutput{{
			Address: p.c.address,
			Value:   remaining,
			Token:   pay.Token,
			Type:    OutputRegular,
		}}
		return p.c.settleLocked(ctx, KindServicePayment, op, ledger.OpCancelPayment, fee, spend, refund)
	})
}

// GetServicePayments lists payments of owner, the composing wallet when empty.
func (p *ServicePaymentProcessor) GetServicePayments(ctx context.Context, owner string) ([]ledger.ServicePayment, error) {
	return query(ctx, p.c, "get_service_payments", func(ctx context.Context, l ledger.Ledger) ([]ledger.ServicePayment, error) {
		return l.ServicePayments(ctx, p.c.owner(owner))
	})
}

// GetServicePaymentStatus returns one payment.
func (p *ServicePaymentProcessor) GetServicePaymentStatus(ctx context.Context, paymentHash string) (ledger.ServicePayment, error) {
	return query(ctx, p.c, "get_service_payment_status", func(ctx context.Context, l ledger.Ledger) (ledger.ServicePayment, error) {
		return l.ServicePayment(ctx, paymentHash)
	})
}
