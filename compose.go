package composer

import (
	"context"

	"github.com/shopspring/decimal"
)

// draft is a transaction before input selection. Leading outputs come first
// in the final transaction, followed by fee outputs and change.
type draft struct {
	op        string
	txType    TxType
	operation string
	outputs   []TransactionOutput
	// spend lists inputs fixed by the caller, such as a conditional output
	// being unlocked
	spend []TransactionInput
	fee   FeeStructure
	pool  *inputPool
}

// inputPool is a jointly selected set of inputs that batch items draw from.
// Change returned in the pool's token is added back so later items can
// spend it.
type inputPool struct {
	token  string
	inputs []TransactionInput
}

func (p *inputPool) covers(token string) bool {
	return p != nil && p.token == token
}

func (p *inputPool) remaining() decimal.Decimal {
	return sumInputs(p.inputs)
}

func (p *inputPool) remove(used []TransactionInput) {
	kept := p.inputs[:0]
	for _, in := range p.inputs {
		spent := false
		for _, u := range used {
			if u.TxHash == in.TxHash && u.OutputIndex == in.OutputIndex {
				spent = true
				break
			}
		}
		if !spent {
			kept = append(kept, in)
		}
	}
	p.inputs = kept
}

func (p *inputPool) absorb(tx *Transaction, wallet string) {
	for i, out := range tx.Outputs {
		if out.Type == OutputCoinBack && out.Address == wallet && out.Token == p.token {
			p.inputs = append(p.inputs, TransactionInput{
				TxHash:      tx.Hash,
				OutputIndex: uint32(i),
				Value:       out.Value,
				Token:       out.Token,
			})
		}
	}
}

// feeOutputs builds the network and validator fee outputs in the native token.
func feeOutputs(fee FeeStructure, native string) []TransactionOutput {
	var outs []TransactionOutput
	if fee.NetworkFee.IsPositive() {
		outs = append(outs, TransactionOutput{
			Address: fee.FeeAddress,
			Value:   fee.NetworkFee,
			Token:   native,
			Type:    OutputFee,
		})
	}
	if fee.ValidatorFee.IsPositive() {
		outs = append(outs, TransactionOutput{
			Value: fee.ValidatorFee,
			Token: native,
			Type:  OutputValidatorFee,
		})
	}
	return outs
}

// composeLocked funds a draft and assembles it. Each token is a channel:
// the outputs' token first, then the native token for fees. A transfer in
// the native token has one channel; any other token has two.
func (c *Composer) composeLocked(ctx context.Context, d draft) (*Transaction, error) {
	native := c.NativeTicker()

	var tokens []string
	need := make(map[string]decimal.Decimal)
	add := func(token string, v decimal.Decimal) {
		if _, ok := need[token]; !ok {
			tokens = append(tokens, token)
			need[token] = decimal.Zero
		}
		need[token] = need[token].Add(v)
	}

	for _, out := range d.outputs {
		if out.Token == "" {
			return nil, errorf(ErrOutputCreation, d.op, "%s output has no token", out.Type)
		}
		if out.Value.IsNegative() {
			return nil, errorf(ErrOutputCreation, d.op, "%s output value %s is negative", out.Type, out.Value)
		}
		add(out.Token, out.Value)
	}
	add(native, d.fee.TotalFee)
	for _, in := range d.spend {
		add(in.Token, in.Value.Neg())
	}

	inputs := append([]TransactionInput(nil), d.spend...)
	var (
		change   []TransactionOutput
		fromPool []TransactionInput
	)
	for _, token := range tokens {
		required := need[token]
		if required.IsNegative() {
			change = append(change, c.coinBack(required.Neg(), token))
			continue
		}
		if required.IsZero() {
			continue
		}

		selected, total, err := c.drawLocked(ctx, d.op, required, token, d.pool)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, selected...)
		if d.pool.covers(token) {
			fromPool = selected
		}
		if rest := total.Sub(required); rest.IsPositive() {
			change = append(change, c.coinBack(rest, token))
		}
	}

	outputs := make([]TransactionOutput, 0, len(d.outputs)+2+len(change))
	outputs = append(outputs, d.outputs...)
	outputs = append(outputs, feeOutputs(d.fee, native)...)
	outputs = append(outputs, change...)

	tx, err := c.assembleLocked(ctx, d.txType, d.operation, inputs, outputs, d.fee)
	if err != nil {
		return nil, err
	}
	if d.pool != nil {
		d.pool.remove(fromPool)
		d.pool.absorb(tx, c.address)
	}
	return tx, nil
}

func (c *Composer) coinBack(value decimal.Decimal, token string) TransactionOutput {
	return TransactionOutput{
		Address: c.address,
		Value:   value,
		Token:   token,
		Type:    OutputCoinBack,
	}
}

// drawLocked selects inputs for one channel, from the pool when it holds
// the token and from the ledger otherwise. Pool inputs are removed by the
// caller once the transaction is accepted.
func (c *Composer) drawLocked(ctx context.Context, op string, required decimal.Decimal, token string, pool *inputPool) ([]TransactionInput, decimal.Decimal, error) {
	if pool.covers(token) {
		return selectGreedy(op, required, token, pool.inputs)
	}

	available, err := c.availableOutputsLocked(ctx, op, token)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return selectGreedy(op, required, token, available)
}
