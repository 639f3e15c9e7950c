package composer

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Template is a preset for a common transaction. Defaults are merged under
// the caller's parameters.
type Template struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Required    []string       `json:"required_params" yaml:"required_params"`
	Optional    []string       `json:"optional_params,omitempty" yaml:"optional_params,omitempty"`
	Defaults    map[string]any `json:"template_params,omitempty" yaml:"template_params,omitempty"`
}

// Templates creates transactions from presets.
type Templates struct {
	c           *Composer
	conditional *ConditionalProcessor
	batch       *BatchProcessor
}

// NewTemplates creates the preset set over c.
func NewTemplates(c *Composer) *Templates {
	return &Templates{
		c:           c,
		conditional: NewConditionalProcessor(c),
		batch:       NewBatchProcessor(c, nil),
	}
}

// Available lists every preset. Stake lock dates are relative to the
// composer's clock.
func (t *Templates) Available() []Template {
	now := t.c.now()
	return []Template{
		{
			Name:        "simple_transfer",
			Description: "Simple token transfer between addresses",
			Required:    []string{"to_address", "amount", "token_ticker"},
			Optional:    []string{"fee"},
		},
		{
			Name:        "stake_lock_3_months",
			Description: "3-month stake lock with 5% reinvestment",
			Required:    []string{"amount"},
			Optional:    []string{"reinvest_percent", "fee"},
			Defaults: map[string]any{
				"lock_time":        formatDate(today(now).AddDate(0, 3, 0)),
				"reinvest_percent": "5",
			},
		},
		{
			Name:        "stake_lock_1_year",
			Description: "1-year stake lock with 10% reinvestment",
			Required:    []string{"amount"},
			Optional:    []string{"reinvest_percent", "fee"},
			Defaults: map[string]any{
				"lock_time":        formatDate(today(now).AddDate(1, 0, 0)),
				"reinvest_percent": "10",
			},
		},
		{
			Name:        "exchange_order_market",
			Description: "Market exchange order at the current rate",
			Required:    []string{"token_sell", "token_buy", "amount"},
			Optional:    []string{"fee"},
		},
		{
			Name:        "exchange_order_limit",
			Description: "Limit exchange order at the given rate",
			Required:    []string{"token_sell", "token_buy", "amount", "rate"},
			Optional:    []string{"fee", "expiration"},
		},
		{
			Name:        "voting_simple",
			Description: "Yes/No voting proposal",
			Required:    []string{"question"},
			Optional:    []string{"expire_time", "max_votes", "fee"},
			Defaults: map[string]any{
				"options":                []string{"Yes", "No"},
				"max_votes":              DefaultMaxVotes,
				"delegated_key_required": false,
				"vote_changing_allowed":  true,
			},
		},
		{
			Name:        "voting_multiple_choice",
			Description: "Multiple choice voting proposal",
			Required:    []string{"question", "options"},
			Optional:    []string{"expire_time", "max_votes", "fee"},
			Defaults: map[string]any{
				"max_votes":              DefaultMaxVotes,
				"delegated_key_required": false,
				"vote_changing_allowed":  true,
			},
		},
		{
			Name:        "batch_payments",
			Description: "Payments to several recipients",
			Required:    []string{"recipients"},
			Optional:    []string{"token_ticker", "fee_per_tx"},
		},
		{
			Name:        "service_payment",
			Description: "Payment for a network service",
			Required:    []string{"service_uid", "max_price_per_unit", "unit_type"},
			Optional:    []string{"amount", "timeout", "conditions", "fee"},
		},
	}
}

// Template returns the preset called name.
func (t *Templates) Template(name string) (Template, bool) {
	for _, tpl := range t.Available() {
		if tpl.Name == name {
			return tpl, true
		}
	}
	return Template{}, false
}

// CreateFromTemplate checks the required parameters of preset name, merges
// its defaults and composes the transaction. For batch_payments the hash of
// the first successful payment is returned.
func (t *Templates) CreateFromTemplate(ctx context.Context, name string, params map[string]any) (string, error) {
	const op = "create_from_template"
	hash, err := t.create(ctx, name, params)
	if err != nil {
		return "", t.c.fail(op, newError(ErrTemplate, op, err), zap.String("template", name))
	}
	return hash, nil
}

func (t *Templates) create(ctx context.Context, name string, params map[string]any) (string, error) {
	tpl, ok := t.Template(name)
	if !ok {
		names := make([]string, 0, 9)
		for _, tpl := range t.Available() {
			names = append(names, tpl.Name)
		}
		return "", fmt.Errorf("unknown template %q, available: %s", name, strings.Join(names, ", "))
	}
	for _, k := range tpl.Required {
		if v, ok := params[k]; !ok || v == nil {
			return "", fmt.Errorf("missing required parameter %s", k)
		}
	}

	p := make(map[string]any, len(tpl.Defaults)+len(params))
	for k, v := range tpl.Defaults {
		p[k] = v
	}
	for k, v := range params {
		p[k] = v
	}

	fee, err := templateFee(p, "fee")
	if err != nil {
		return "", err
	}

	switch name {
	case "simple_transfer":
		var (
			to     string
			amount decimal.Decimal
			token  string
		)
		err := decodeParams(
			func() (err error) { to, err = paramString(p, "to_address"); return },
			func() (err error) { amount, err = paramDecimal(p, "amount"); return },
			func() (err error) { token, err = paramString(p, "token_ticker"); return },
		)
		if err != nil {
			return "", err
		}
		return t.c.CreateTx(ctx, to, amount, token, fee)

	case "stake_lock_3_months", "stake_lock_1_year":
		amount, err := paramDecimal(p, "amount")
		if err != nil {
			return "", err
		}
		return t.conditional.CreateConditionalTransaction(ctx, KindStakeLock, amount, fee, p)

	case "exchange_order_market":
		var sell, buy string
		var amount decimal.Decimal
		err := decodeParams(
			func() (err error) { sell, err = paramString(p, "token_sell"); return },
			func() (err error) { buy, err = paramString(p, "token_buy"); return },
			func() (err error) { amount, err = paramDecimal(p, "amount"); return },
		)
		if err != nil {
			return "", err
		}
		return t.conditional.Exchange().CreateMarketOrder(ctx, sell, buy, amount, fee)

	case "exchange_order_limit":
		amount, err := paramDecimal(p, "amount")
		if err != nil {
			return "", err
		}
		return t.conditional.CreateConditionalTransaction(ctx, KindExchange, amount, fee, p)

	case "voting_simple", "voting_multiple_choice":
		return t.conditional.CreateConditionalTransaction(ctx, KindVoting, decimal.Zero, fee, p)

	case "batch_payments":
		return t.batchPayments(ctx, p)

	case "service_payment":
		amount, err := paramDecimal(p, "amount")
		if err != nil {
			return "", err
		}
		return t.conditional.CreateConditionalTransaction(ctx, KindServicePayment, amount, fee, p)
	}
	return "", fmt.Errorf("template %q is not implemented", name)
}

func (t *Templates) batchPayments(ctx context.Context, p map[string]any) (string, error) {
	recipients, ok := p["recipients"].([]any)
	if !ok {
		if typed, isTyped := p["recipients"].([]map[string]any); isTyped {
			for _, r := range typed {
				recipients = append(recipients, r)
			}
		} else {
			return "", fmt.Errorf("recipients must be a list, got %T", p["recipients"])
		}
	}
	if len(recipients) == 0 {
		return "", fmt.Errorf("recipients is empty")
	}

	token, err := paramString(p, "token_ticker")
	if err != nil {
		return "", err
	}
	fee, err := templateFee(p, "fee_per_tx")
	if err != nil {
		return "", err
	}

	defs := make([]TxDefinition, 0, len(recipients))
	for i, r := range recipients {
		rm, ok := r.(map[string]any)
		if !ok {
			return "", fmt.Errorf("recipient %d must be a map, got %T", i, r)
		}
		to, err := paramString(rm, "address")
		if err != nil {
			return "", err
		}
		amount, err := paramDecimal(rm, "amount")
		if err != nil {
			return "", err
		}
		defs = append(defs, TxDefinition{To: to, Amount: amount, Token: token, Fee: &fee})
	}

	res, err := t.batch.CreateBatchTransactions(ctx, defs, false)
	if err != nil {
		return "", err
	}
	if len(res.Hashes) == 0 {
		return "", fmt.Errorf("batch payment failed: %d of %d payments failed", res.FailedCount, len(defs))
	}
	return res.Hashes[0], nil
}

// CreateBatchFromTemplate applies preset name to every parameter set in
// turn. Failures are recorded per set.
func (t *Templates) CreateBatchFromTemplate(ctx context.Context, name string, paramSets []map[string]any) (BatchResult, error) {
	const op = "create_batch_from_template"
	if _, ok := t.Template(name); !ok {
		return BatchResult{}, t.c.fail(op, errorf(ErrTemplate, op, "unknown template %q", name))
	}

	res := newBatchResult()
	for i, params := range paramSets {
		hash, err := t.create(ctx, name, params)
		if err != nil {
			res.failItem(i, tokenOf(params), newError(ErrTemplate, op, err))
			continue
		}
		res.Hashes = append(res.Hashes, hash)
		res.SuccessfulCount++
	}
	t.c.metrics.observeBatch(res.SuccessfulCount, res.FailedCount)
	return res, nil
}

func tokenOf(params map[string]any) string {
	for _, k := range []string{"token_ticker", "token_sell"} {
		if s, ok := params[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func templateFee(p map[string]any, key string) (decimal.Decimal, error) {
	if p[key] == nil {
		return dec(DefaultValidatorFee), nil
	}
	return paramDecimal(p, key)
}
