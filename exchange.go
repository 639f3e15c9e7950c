package composer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/SashaZezulinsky/cellframe-composer/ledger"
)

// ExchangeParams describe an order selling TokenSell for TokenBuy at Rate
// units of TokenBuy per unit sold.
type ExchangeParams struct {
	TokenSell  string
	TokenBuy   string
	Rate       decimal.Decimal
	Expiration string
	MinAmount  decimal.Decimal
	// OrderID correlates the order across the wallet and the exchange
	OrderID string
}

func (ExchangeParams) Kind() Kind { return KindExchange }

func (p ExchangeParams) Conditions() map[string]any {
	m := map[string]any{
		"token_sell": p.TokenSell,
		"token_buy":  p.TokenBuy,
		"rate":       p.Rate,
	}
	if p.Expiration != "" {
		m["expiration"] = p.Expiration
	}
	if p.MinAmount.IsPositive() {
		m["min_amount"] = p.MinAmount
	}
	if p.OrderID != "" {
		m["order_id"] = p.OrderID
	}
	return m
}

func (p ExchangeParams) validate(now time.Time) error {
	if p.TokenBuy == "" {
		return errors.New("token_buy is required")
	}
	if p.TokenSell == p.TokenBuy {
		return fmt.Errorf("cannot exchange %s for itself", p.TokenBuy)
	}
	if !p.Rate.IsPositive() {
		return fmt.Errorf("rate %s must be positive", p.Rate)
	}
	if p.MinAmount.IsNegative() {
		return fmt.Errorf("min_amount %s is negative", p.MinAmount)
	}
	if p.Expiration != "" {
		exp, err := parseDate(p.Expiration)
		if err != nil {
			return err
		}
		if !exp.After(today(now)) {
			return fmt.Errorf("expiration %s is not in the future", p.Expiration)
		}
	}
	return nil
}

// ExchangeProcessor places and cancels exchange orders.
type ExchangeProcessor struct {
	c *Composer
}

// NewExchangeProcessor creates an exchange processor over c.
func NewExchangeProcessor(c *Composer) *ExchangeProcessor {
	return &ExchangeProcessor{c: c}
}

func (p *ExchangeProcessor) TransactionType() Kind { return KindExchange }

// ValidateParams accepts token_buy and rate (required), token_sell
// (defaults to the native token), expiration and min_amount.
func (p *ExchangeProcessor) ValidateParams(raw map[string]any) (Params, error) {
	if err := missingParams(KindExchange, raw, "token_buy", "rate"); err != nil {
		return nil, err
	}
	var out ExchangeParams
	err := decodeParams(
		func() (err error) { out.TokenBuy, err = paramString(raw, "token_buy"); return },
		func() (err error) { out.TokenSell, err = paramString(raw, "token_sell"); return },
		func() (err error) { out.Rate, err = paramDecimal(raw, "rate"); return },
		func() (err error) { out.Expiration, err = paramString(raw, "expiration"); return },
		func() (err error) { out.MinAmount, err = paramDecimal(raw, "min_amount"); return },
		func() (err error) { out.OrderID, err = paramString(raw, "order_id"); return },
	)
	if err != nil {
		return nil, err
	}
	out = p.withDefaults(out)
	if err := out.validate(p.c.now()); err != nil {
		return nil, newError(ErrConditionalTransaction, "validate_params", err)
	}
	return out, nil
}

func (p *ExchangeProcessor) withDefaults(ep ExchangeParams) ExchangeParams {
	if ep.TokenSell == "" {
		ep.TokenSell = p.c.NativeTicker()
	}
	if ep.OrderID == "" {
		ep.OrderID = uuid.NewString()
	}
	return ep
}

// CreateConditionalOutput locks value of the sold token to the wallet.
func (p *ExchangeProcessor) CreateConditionalOutput(value decimal.Decimal, params Params) (TransactionOutput, error) {
	ep, ok := params.(ExchangeParams)
	if !ok {
		return TransactionOutput{}, errorf(ErrConditionalTransaction, "create_conditional_output", "unexpected %T", params)
	}
	if ep.MinAmount.IsPositive() && value.LessThan(ep.MinAmount) {
		return TransactionOutput{}, errorf(ErrConditionalTransaction, "create_conditional_output",
			"order amount %s is below min_amount %s", value, ep.MinAmount)
	}
	return TransactionOutput{
		Address:    p.c.address,
		Value:      value,
		Token:      ep.TokenSell,
		Type:       ConditionalOutput(KindExchange),
		Conditions: ep.Conditions(),
	}, nil
}

// CreateConditionalTransaction composes an order locking value.
func (p *ExchangeProcessor) CreateConditionalTransaction(ctx context.Context, value, fee decimal.Decimal, params Params) (string, error) {
	if ep, ok := params.(ExchangeParams); ok {
		params = p.withDefaults(ep)
	}
	return p.c.createConditional(ctx, p, "create_exchange_order", value, fee, params)
}

// CreateExchangeOrder sells amount of tokenSell for tokenBuy at rate.
func (p *ExchangeProcessor) CreateExchangeOrder(ctx context.Context, tokenSell, tokenBuy string, amount, rate, fee decimal.Decimal) (string, error) {
	return p.c.createConditional(ctx, p, "create_exchange_order", amount, fee, p.withDefaults(ExchangeParams{
		TokenSell: tokenSell,
		TokenBuy:  tokenBuy,
		Rate:      rate,
	}))
}

// CreateMarketOrder sells amount at the current market rate. The rate
// comes from the ledger and, when it is unavailable, from the static table.
func (p *ExchangeProcessor) CreateMarketOrder(ctx context.Context, tokenSell, tokenBuy string, amount, fee decimal.Decimal) (string, error) {
	const op = "create_market_order"
	return p.c.conditionalCall(ctx, KindExchange, op, func(ctx context.Context) (*Transaction, error) {
		rate, err := p.marketRateLocked(ctx, op, tokenSell, tokenBuy)
		if err != nil {
			return nil, err
		}
		params := p.withDefaults(ExchangeParams{TokenSell: tokenSell, TokenBuy: tokenBuy, Rate: rate})
		return p.c.conditionalLocked(ctx, p, op, amount, fee, params, nil)
	})
}

// MarketRate returns the rate a market order would use.
func (p *ExchangeProcessor) MarketRate(ctx context.Context, tokenSell, tokenBuy string) (decimal.Decimal, error) {
	return query(ctx, p.c, "market_rate", func(ctx context.Context, _ ledger.Ledger) (decimal.Decimal, error) {
		return p.marketRateLocked(ctx, "market_rate", tokenSell, tokenBuy)
	})
}

func (p *ExchangeProcessor) marketRateLocked(ctx context.Context, op, sell, buy string) (decimal.Decimal, error) {
	if sell == "" || buy == "" {
		return decimal.Zero, newError(ErrInvalidTicker, op, nil)
	}
	rate, err := p.c.ledger.MarketRate(ctx, sell, buy)
	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		rate = p.c.fees.MarketRate(sell, buy)
		p.c.logger.Debug("market rate unavailable, using static table",
			zap.String("pair", sell+"/"+buy), zap.Stringer("rate", rate))
	case err != nil:
		return decimal.Zero, newError(ErrConditionalTransaction, op, err)
	}
	return rate, nil
}

// CreateLimitOrder sells amount at limitRate until expiration (YYMMDD,
// optional).
func (p *ExchangeProcessor) CreateLimitOrder(ctx context.Context, tokenSell, tokenBuy string, amount, limitRate, fee decimal.Decimal, expiration string) (string, error) {
	return p.c.createConditional(ctx, p, "create_limit_order", amount, fee, p.withDefaults(ExchangeParams{
		TokenSell:  tokenSell,
		TokenBuy:   tokenBuy,
		Rate:       limitRate,
		Expiration: expiration,
	}))
}

// CancelExchangeOrder spends an open order, refunding its unfilled amount.
func (p *ExchangeProcessor) CancelExchangeOrder(ctx context.Context, orderHash string, fee decimal.Decimal) (string, error) {
	const op = "cancel_exchange_order"
	return p.c.conditionalCall(ctx, KindExchange, op, func(ctx context.Context) (*Transaction, error) {
		order, err := p.c.ledger.ExchangeOrder(ctx, orderHash)
		if err != nil {
			return nil, newError(ErrConditionalTransaction, op, err)
		}
		if order.Status != "open" {
			return nil, errorf(ErrConditionalTransaction, op, "order %s is %s", orderHash, order.Status)
		}
		remaining := order.Remaining()
		if !remaining.IsPositive() {
			return nil, errorf(ErrConditionalTransaction, op, "order %s has nothing left to refund", orderHash)
		}

		spend := []TransactionInput{{TxHash: order.Hash, OutputIndex: 0, Value: remaining, Token: order.TokenSell}}
		refund := []TransactionOutput{{
			Address: p.c.address,
			Value:   remaining,
			Token:   order.TokenSell,
			Type:    OutputRegular,
		}}
		return p.c.settleLocked(ctx, KindExchange, op, ledger.OpCancelOrder, fee, spend, refund)
	})
}

// GetExchangeOrders lists orders of owner, the composing wallet when empty.
func (p *ExchangeProcessor) GetExchangeOrders(ctx context.Context, owner string) ([]ledger.ExchangeOrder, error) {
	return query(ctx, p.c, "get_exchange_orders", func(ctx context.Context, l ledger.Ledger) ([]ledger.ExchangeOrder, error) {
		return l.ExchangeOrders(ctx, p.c.owner(owner))
	})
}

// GetExchangeOrderStatus returns one order.
func (p *ExchangeProcessor) GetExchangeOrderStatus(ctx context.Context, orderHash string) (ledger.ExchangeOrder, error) {
	return query(ctx, p.c, "get_exchange_order_status", func(ctx context.Context, l ledger.Ledger) (ledger.ExchangeOrder, error) {
		return l.ExchangeOrder(ctx, orderHash)
	})
}

// GetExchangeHistory lists orders of owner that are no longer open.
func (p *ExchangeProcessor) GetExchangeHistory(ctx context.Context, owner string) ([]ledger.ExchangeOrder, error) {
	orders, err := p.GetExchangeOrders(ctx, owner)
	if err != nil {
		return nil, err
	}
	var out []ledger.ExchangeOrder
	for _, o := range orders {
		if o.Status != "open" {
			out = append(out, o)
		}
	}
	return out, nil
}
