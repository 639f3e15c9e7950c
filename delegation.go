package composer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SashaZezulinsky/cellframe-composer/ledger"
	"github.com/SashaZezulinsky/cellframe-composer/wallet"
)

// DelegationParams delegate stake signed by SigningAddr to the validator
// NodeAddr.
type DelegationParams struct {
	SigningAddr   string
	NodeAddr      string
	SovereignAddr string
	SovereignTax  decimal.Decimal
}

func (DelegationParams) Kind() Kind { return KindDelegation }

func (p DelegationParams) Conditions() map[string]any {
	m := map[string]any{
		"signing_addr":  p.SigningAddr,
		"node_addr":     p.NodeAddr,
		"sovereign_tax": p.SovereignTax,
	}
	if p.SovereignAddr != "" {
		m["sovereign_addr"] = p.SovereignAddr
	}
	return m
}

func (p DelegationParams) validate(time.Time) error {
	if p.SigningAddr == "" {
		return errors.New("signing_addr is required")
	}
	if err := wallet.ValidateAddress(p.SigningAddr); err != nil {
		return fmt.Errorf("signing_addr: %w", err)
	}
	if p.NodeAddr == "" {
		return errors.New("node_addr is required")
	}
	if p.SovereignAddr != "" {
		if err := wallet.ValidateAddress(p.SovereignAddr); err != nil {
			return fmt.Errorf("sovereign_addr: %w", err)
		}
	}
	if p.SovereignTax.IsNegative() || p.SovereignTax.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("sovereign_tax %s is outside [0, 100]", p.SovereignTax)
	}
	return nil
}

// DelegationProcessor delegates stake to validators and manages the
// resulting delegations.
type DelegationProcessor struct {
	c *Composer
}

// NewDelegationProcessor creates a delegation processor over c.
func NewDelegationProcessor(c *Composer) *DelegationProcessor {
	return &DelegationProcessor{c: c}
}

func (p *DelegationProcessor) TransactionType() Kind { return KindDelegation }

// ValidateParams accepts signing_addr and node_addr (required),
// sovereign_addr and sovereign_tax.
func (p *DelegationProcessor) ValidateParams(raw map[string]any) (Params, error) {
	if err := missingParams(KindDelegation, raw, "signing_addr", "node_addr"); err != nil {
		return nil, err
	}
	var out DelegationParams
	err := decodeParams(
		func() (err error) { out.SigningAddr, err = paramString(raw, "signing_addr"); return },
		func() (err error) { out.NodeAddr, err = paramString(raw, "node_addr"); return },
		func() (err error) { out.SovereignAddr, err = paramString(raw, "sovereign_addr"); return },
		func() (err error) { out.SovereignTax, err = paramDecimal(raw, "sovereign_tax"); return },
	)
	if err != nil {
		return nil, err
	}
	if err := out.validate(p.c.now()); err != nil {
		return nil, newError(ErrConditionalTransaction, "validate_params", err)
	}
	return out, nil
}

// CreateConditionalOutput locks value of the native token to the signing
// address.
func (p *DelegationProcessor) CreateConditionalOutput(value decimal.Decimal, params Params) (TransactionOutput, error) {
	dp, ok := params.(DelegationParams)
	if !ok {
		return TransactionOutput{}, errorf(ErrConditionalTransaction, "create_conditional_output", "unexpected %T", params)
	}
	return TransactionOutput{
		Address:    dp.SigningAddr,
		Value:      value,
		Token:      p.c.NativeTicker(),
		Type:       ConditionalOutput(KindDelegation),
		Conditions: dp.Conditions(),
	}, nil
}

// CreateConditionalTransaction composes a delegation of value.
func (p *DelegationProcessor) CreateConditionalTransaction(ctx context.Context, value, fee decimal.Decimal, params Params) (string, error) {
	return p.c.createConditional(ctx, p, "create_delegation", value, fee, params)
}

// CreateDelegation delegates amount to the validator nodeAddr. The
// sovereign address and tax are optional.
func (p *DelegationProcessor) CreateDelegation(ctx context.Context, nodeAddr string, amount, fee decimal.Decimal, sovereignAddr string, sovereignTax decimal.Decimal) (string, error) {
	const op = "create_delegation"
	params := DelegationParams{
		SigningAddr:   p.c.address,
		NodeAddr:      nodeAddr,
		SovereignAddr: sovereignAddr,
		SovereignTax:  sovereignTax,
	}
	return p.c.createConditional(ctx, p, op, amount, fee, params)
}

func (p *DelegationProcessor) checkLocked(ctx context.Context, op string, params Params) error {
	dp, ok := params.(DelegationParams)
	if !ok {
		return nil
	}
	return p.checkValidatorLocked(ctx, op, dp.NodeAddr)
}

// checkValidatorLocked rejects unknown or inactive validators. When the
// ledger cannot answer, the check is skipped.
func (p *DelegationProcessor) checkValidatorLocked(ctx context.Context, op, node string) error {
	if node == "" {
		return errorf(ErrConditionalTransaction, op, "node_addr is required")
	}
	v, err := p.c.ledger.Validator(ctx, node)
	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		return nil
	case err != nil:
		return newError(ErrConditionalTransaction, op, err)
	case v.Status != "active":
		return errorf(ErrConditionalTransaction, op, "validator %s is %s", node, v.Status)
	}
	return nil
}

func (p *DelegationProcessor) activeDelegationLocked(ctx context.Context, op, hash string) (ledger.Delegation, error) {
	delegations, err := p.c.ledger.Delegations(ctx, p.c.address)
	if err != nil {
		return ledger.Delegation{}, newError(ErrConditionalTransaction, op, err)
	}
	for _, d := range delegations {
		if d.Hash != hash {
			continue
		}
		if d.Status != "active" {
			return ledger.Delegation{}, errorf(ErrConditionalTransaction, op, "delegation %s is %s", hash, d.Status)
		}
		return d, nil
	}
	return ledger.Delegation{}, newError(ErrConditionalTransaction, op,
		fmt.Errorf("%w: delegation %s", ledger.ErrNotFound, hash))
}

func (p *DelegationProcessor) delegationOutput(node string, value decimal.Decimal, token string) TransactionOutput {
	params := DelegationParams{SigningAddr: p.c.address, NodeAddr: node}
	return TransactionOutput{
		Address:    p.c.address,
		Value:      value,
		Token:      token,
		Type:       ConditionalOutput(KindDelegation),
		Conditions: params.Conditions(),
	}
}

// Undelegate withdraws amount from the delegation. Any remainder stays
// delegated to the same validator under a new delegation.
func (p *DelegationProcessor) Undelegate(ctx context.Context, delegationHash string, amount, fee decimal.Decimal) (string, error) {
	const op = "undelegate"
	if !amount.IsPositive() {
		return "", p.c.fail(op, errorf(ErrConditionalTransaction, op, "amount %s must be positive", amount))
	}
	return p.c.conditionalCall(ctx, KindDelegation, op, func(ctx context.Context) (*Transaction, error) {
		d, err := p.activeDelegationLocked(ctx, op, delegationHash)
		if err != nil {
			return nil, err
		}
		if amount.GreaterThan(d.Amount) {
			return nil, errorf(ErrConditionalTransaction, op, "amount %s exceeds delegated %s", amount, d.Amount)
		}

		var outputs []TransactionOutput
		if rest := d.Amount.Sub(amount); rest.IsPositive() {
			outputs = append(outputs, p.delegationOutput(d.NodeAddr, rest, d.Token))
		}
		outputs = append(outputs, TransactionOutput{
			Address: p.c.address,
			Value:   amount,
			Token:   d.Token,
			Type:    OutputRegular,
		})
		spend := []TransactionInput{{TxHash: d.Hash, OutputIndex: 0, Value: d.Amount, Token: d.Token}}
		return p.c.settleLocked(ctx, KindDelegation, op, ledger.OpUndelegate, fee, spend, outputs)
	})
}

// Redelegate moves amount of the delegation to the validator newNode. Any
// remainder is returned to the wallet.
func (p *DelegationProcessor) Redelegate(ctx context.Context, delegationHash, newNode string, amount, fee decimal.Decimal) (string, error) {
	const op = "redelegate"
	if !amount.IsPositive() {
		return "", p.c.fail(op, errorf(ErrConditionalTransaction, op, "amount %s must be positive", amount))
	}
	return p.c.conditionalCall(ctx, KindDelegation, op, func(ctx context.Context) (*Transaction, error) {
		d, err := p.activeDelegationLocked(ctx, op, delegationHash)
		if err != nil {
			return nil, err
		}
		if newNode == d.NodeAddr {
			return nil, errorf(ErrConditionalTransaction, op, "delegation %s is already with %s", delegationHash, newNode)
		}
		if err := p.checkValidatorLocked(ctx, op, newNode); err != nil {
			return nil, err
		}
		if amount.GreaterThan(d.Amount) {
			return nil, errorf(ErrConditionalTransaction, op, "amount %s exceeds delegated %s", amount, d.Amount)
		}

		outputs := []TransactionOutput{p.delegationOutput(newNode, amount, d.Token)}
		if rest := d.Amount.Sub(amount); rest.IsPositive() {
			outputs = append(outputs, TransactionOutput{
				Address: p.c.address,
				Value:   rest,
				Token:   d.Token,
				Type:    OutputRegular,
			})
		}
		spend := []TransactionInput{{TxHash: d.Hash, OutputIndex: 0, Value: d.Amount, Token: d.Token}}
		return p.c.settleLocked(ctx, KindDelegation, op, ledger.OpRedelegate, fee, spend, outputs)
	})
}

// ClaimDelegationRewards pays the delegation's accumulated rewards to the
// wallet once they reach the minimum claim.
func (p *DelegationProcessor) ClaimDelegationRewards(ctx context.Context, delegationHash string, fee decimal.Decimal) (string, error) {
	const op = "claim_delegation_rewards"
	return p.c.conditionalCall(ctx, KindDelegation, op, func(ctx context.Context) (*Transaction, error) {
		d, err := p.activeDelegationLocked(ctx, op, delegationHash)
		if err != nil {
			return nil, err
		}
		rewards, err := p.c.ledger.DelegationRewards(ctx, delegationHash)
		if err != nil {
			return nil, newError(ErrConditionalTransaction, op, err)
		}
		if !rewards.CanClaim {
			return nil, errorf(ErrConditionalTransaction, op,
				"rewards %s are below the minimum claim %s", rewards.Accumulated, rewards.MinClaim)
		}

		spend := []TransactionInput{{TxHash: d.Hash, OutputIndex: 1, Value: rewards.Accumulated, Token: d.Token}}
		payout := []TransactionOutput{{
			Address: p.c.address,
			Value:   rewards.Accumulated,
			Token:   d.Token,
			Type:    OutputRegular,
		}}
		return p.c.settleLocked(ctx, KindDelegation, op, ledger.OpClaimRewards, fee, spend, payout)
	})
}

// GetDelegations lists delegations of owner, the composing wallet when empty.
func (p *DelegationProcessor) GetDelegations(ctx context.Context, owner string) ([]ledger.Delegation, error) {
	return query(ctx, p.c, "get_delegations", func(ctx context.Context, l ledger.Ledger) ([]ledger.Delegation, error) {
		return l.Delegations(ctx, p.c.owner(owner))
	})
}

// GetDelegationRewards describes the rewards of one delegation.
func (p *DelegationProcessor) GetDelegationRewards(ctx context.Context, delegationHash string) (ledger.DelegationRewards, error) {
	return query(ctx, p.c, "get_delegation_rewards", func(ctx context.Context, l ledger.Ledger) (ledger.DelegationRewards, error) {
		return l.DelegationRewards(ctx, delegationHash)
	})
}

// GetValidatorInfo returns one validator.
func (p *DelegationProcessor) GetValidatorInfo(ctx context.Context, node string) (ledger.Validator, error) {
	return query(ctx, p.c, "get_validator_info", func(ctx context.Context, l ledger.Ledger) (ledger.Validator, error) {
		return l.Validator(ctx, node)
	})
}

// GetAllValidators lists every validator.
func (p *DelegationProcessor) GetAllValidators(ctx context.Context) ([]ledger.Validator, error) {
	return query(ctx, p.c, "get_all_validators", func(ctx context.Context, l ledger.Ledger) ([]ledger.Validator, error) {
		return l.Validators(ctx)
	})
}
