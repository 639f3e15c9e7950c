package composer

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/SashaZezulinsky/cellframe-composer/wallet"
)

// CreateTx transfers amount of token to the address to, paying fee as the
// validator fee, and returns the transaction hash.
//
// Outputs are ordered [regular, fee?, validator_fee?, coin_back(s)?]. A
// transfer in the native token is funded from one input set; any other
// token needs a second, native input set for the fees, and its coin backs
// come transfer first, fee second.
func (c *Composer) CreateTx(ctx context.Context, to string, amount decimal.Decimal, token string, fee decimal.Decimal) (string, error) {
	var tx *Transaction
	err := c.withLock(ctx, func(ctx context.Context) error {
		var err error
		tx, err = c.createTxLocked(ctx, to, amount, token, fee, nil)
		return err
	})
	c.metrics.observeComposition(TxRegular, token, tx, err)
	if err != nil {
		return "", c.fail("create_tx", err,
			zap.String("to", to), zap.Stringer("amount", amount), zap.String("token", token))
	}
	c.logger.Info("transaction created",
		zap.String("hash", tx.Hash), zap.String("to", to),
		zap.Stringer("amount", amount), zap.String("token", token))
	return tx.Hash, nil
}

// ComposeTx is CreateTx returning the full transaction.
func (c *Composer) ComposeTx(ctx context.Context, to string, amount decimal.Decimal, token string, fee decimal.Decimal) (*Transaction, error) {
	var tx *Transaction
	err := c.withLock(ctx, func(ctx context.Context) error {
		var err error
		tx, err = c.createTxLocked(ctx, to, amount, token, fee, nil)
		return err
	})
	c.metrics.observeComposition(TxRegular, token, tx, err)
	return tx, c.fail("compose_tx", err, zap.String("to", to), zap.String("token", token))
}

func (c *Composer) createTxLocked(ctx context.Context, to string, amount decimal.Decimal, token string, fee decimal.Decimal, pool *inputPool) (*Transaction, error) {
	const op = "create_tx"

	// Validate parameters
	if token == "" {
		return nil, newError(ErrInvalidTicker, op, nil)
	}
	if !amount.IsPositive() {
		return nil, errorf(ErrOutputCreation, op, "amount %s must be positive", amount)
	}
	if err := wallet.ValidateAddress(to); err != nil {
		return nil, newError(ErrOutputCreation, op, err)
	}

	fees, err := c.calculateFeesLocked(ctx, op, token, fee)
	if err != nil {
		return nil, err
	}

	return c.composeLocked(ctx, draft{
		op:     op,
		txType: TxRegular,
		outputs: []TransactionOutput{{
			Address: to,
			Value:   amount,
			Token:   token,
			Type:    OutputRegular,
		}},
		fee:  fees,
		pool: pool,
	})
}
