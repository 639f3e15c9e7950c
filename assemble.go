package composer

import (
	"bytes"
	"context"
	"io"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/SashaZezulinsky/cellframe-composer/ledger"
)

// Transaction encoding version
const txEncodingVersion = 1

// assembleLocked checks value conservation, attaches condition scripts,
// encodes and hashes the transaction, signs the hash and hands the result
// to the ledger.
func (c *Composer) assembleLocked(ctx context.Context, txType TxType, operation string, inputs []TransactionInput, outputs []TransactionOutput, fee FeeStructure) (*Transaction, error) {
	const op = "assemble"

	if len(inputs) == 0 {
		return nil, errorf(ErrAssembly, op, "transaction has no inputs")
	}
	if err := checkConservation(inputs, outputs); err != nil {
		return nil, err
	}

	// Conditional outputs carry a script committing to their conditions
	for i := range outputs {
		if !outputs[i].IsConditional() {
			continue
		}
		script, err := BuildConditionScript(outputs[i])
		if err != nil {
			return nil, newError(ErrOutputCreation, op, err)
		}
		outputs[i].Script = script
	}

	// Sort inputs for deterministic ordering
	sorted := make([]TransactionInput, len(inputs))
	copy(sorted, inputs)
	sortTxInputs(sorted)

	tx := &Transaction{
		Type:      txType,
		Operation: operation,
		Network:   c.cfg.NetName,
		Wallet:    c.address,
		Inputs:    sorted,
		Outputs:   outputs,
		Fee:       fee,
	}

	var buf bytes.Buffer
	if err := encodeTx(&buf, tx); err != nil {
		return nil, newError(ErrAssembly, op, err)
	}
	tx.Raw = buf.Bytes()
	hash := chainhash.DoubleHashH(tx.Raw)
	tx.Hash = hash.String()

	sig, err := c.signer.Sign(hash[:])
	if err != nil {
		return nil, newError(ErrAssembly, op, err)
	}
	tx.Signature = sig

	accepted, err := c.ledger.Submit(ctx, toLedgerTx(tx))
	if err != nil {
		return nil, newError(ErrAssembly, op, err)
	}
	if accepted != "" {
		tx.Hash = accepted
	}

	c.logger.Debug("transaction assembled",
		zap.String("hash", tx.Hash),
		zap.String("type", string(txType)),
		zap.Int("inputs", len(tx.Inputs)),
		zap.Int("outputs", len(tx.Outputs)))
	return tx, nil
}

// checkConservation verifies that inputs and outputs balance per token.
func checkConservation(inputs []TransactionInput, outputs []TransactionOutput) error {
	balance := make(map[string]decimal.Decimal)
	for _, in := range inputs {
		balance[in.Token] = balance[in.Token].Add(in.Value)
	}
	for _, out := range outputs {
		if out.Token == "" && out.Value.IsPositive() {
			return errorf(ErrOutputCreation, "assemble", "%s output carries value without a token", out.Type)
		}
		balance[out.Token] = balance[out.Token].Sub(out.Value)
	}

	tokens := make([]string, 0, len(balance))
	for t := range balance {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	for _, t := range tokens {
		if !balance[t].IsZero() {
			return errorf(ErrOutputCreation, "assemble", "value not conserved for %s: imbalance %s", t, balance[t])
		}
	}
	return nil
}

// encodeTx writes the canonical encoding: var-string framed header fields,
// then var-int counted inputs and outputs.
func encodeTx(w io.Writer, tx *Transaction) error {
	if err := wire.WriteVarInt(w, 0, txEncodingVersion); err != nil {
		return err
	}
	for _, s := range []string{string(tx.Type), tx.Operation, tx.Network, tx.Wallet} {
		if err := wire.WriteVarString(w, 0, s); err != nil {
			return err
		}
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(tx.Inputs))); err != nil {
		return err
	}
	for _, in := range tx.Inputs {
		if err := wire.WriteVarString(w, 0, in.TxHash); err != nil {
			return err
		}
		if err := wire.WriteVarInt(w, 0, uint64(in.OutputIndex)); err != nil {
			return err
		}
		if err := wire.WriteVarString(w, 0, in.Value.String()); err != nil {
			return err
		}
		if err := wire.WriteVarString(w, 0, in.Token); err != nil {
			return err
		}
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(tx.Outputs))); err != nil {
		return err
	}
	for _, out := range tx.Outputs {
		for _, s := range []string{out.Address, out.Value.String(), out.Token, string(out.Type)} {
			if err := wire.WriteVarString(w, 0, s); err != nil {
				return err
			}
		}
		if err := wire.WriteVarBytes(w, 0, out.Script); err != nil {
			return err
		}
	}
	return nil
}

// sortTxInputs sorts inputs by source hash, then output index.
func sortTxInputs(inputs []TransactionInput) {
	sort.SliceStable(inputs, func(i, j int) bool {
		if inputs[i].TxHash != inputs[j].TxHash {
			return inputs[i].TxHash < inputs[j].TxHash
		}
		return inputs[i].OutputIndex < inputs[j].OutputIndex
	})
}

func toLedgerTx(tx *Transaction) *ledger.SignedTx {
	out := &ledger.SignedTx{
		Hash:      tx.Hash,
		Type:      string(tx.Type),
		Operation: tx.Operation,
		Network:   tx.Network,
		Wallet:    tx.Wallet,
		Signature: tx.Signature,
		Raw:       tx.Raw,
	}
	for _, in := range tx.Inputs {
		out.Inputs = append(out.Inputs, ledger.UTXO{
			TxHash: in.TxHash,
			Index:  in.OutputIndex,
			Value:  in.Value,
			Token:  in.Token,
		})
	}
	for _, o := range tx.Outputs {
		out.Outputs = append(out.Outputs, ledger.TxOutput{
			Address:    o.Address,
			Value:      o.Value,
			Token:      o.Token,
			Type:       string(o.Type),
			Conditions: o.Conditions,
			Script:     o.Script,
		})
	}
	return out
}
