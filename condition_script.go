package composer

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"
)

// Tag of the condition commitment hash
var conditionTag = []byte("CFCondition")

// BuildConditionScript creates the script of a conditional output:
//
//	<kind> OP_DROP <commitment> OP_DROP [<lock_time> OP_CHECKLOCKTIMEVERIFY OP_DROP]
//	[OP_DUP OP_HASH160 <owner> OP_EQUALVERIFY OP_CHECKSIG | OP_TRUE]
//
// The commitment is a tagged hash of the sorted condition map, so equal
// conditions always produce the same script.
func BuildConditionScript(out TransactionOutput) ([]byte, error) {
	if !out.IsConditional() {
		return nil, fmt.Errorf("output type %s is not conditional", out.Type)
	}
	kind := strings.TrimPrefix(string(out.Type), "conditional_")

	commitment, err := conditionCommitment(kind, out.Conditions)
	if err != nil {
		return nil, err
	}

	b := txscript.NewScriptBuilder().
		AddData([]byte(kind)).
		AddOp(txscript.OP_DROP).
		AddData(commitment[:]).
		AddOp(txscript.OP_DROP)

	// Stake locks add an absolute timelock on the YYMMDD unlock date
	if lt, ok := out.Conditions["lock_time"].(string); ok {
		n, err := strconv.ParseInt(lt, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("lock_time %q is not numeric", lt)
		}
		b.AddInt64(n).
			AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).
			AddOp(txscript.OP_DROP)
	}

	if out.Address == "" {
		b.AddOp(txscript.OP_TRUE)
		return b.Script()
	}

	owner, _, err := base58.CheckDecode(out.Address)
	if err != nil {
		return nil, fmt.Errorf("decode owner address: %w", err)
	}
	return b.AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(owner).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// conditionCommitment hashes kind and the conditions, keys in sorted order.
func conditionCommitment(kind string, conditions map[string]any) (*chainhash.Hash, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarString(&buf, 0, kind); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(conditions))
	for k := range conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if err := wire.WriteVarInt(&buf, 0, uint64(len(keys))); err != nil {
		return nil, err
	}
	for _, k := range keys {
		v, err := conditionValue(conditions[k])
		if err != nil {
			return nil, fmt.Errorf("condition %s: %w", k, err)
		}
		if err := wire.WriteVarString(&buf, 0, k); err != nil {
			return nil, err
		}
		if err := wire.WriteVarString(&buf, 0, v); err != nil {
			return nil, err
		}
	}

	return chainhash.TaggedHash(conditionTag, buf.Bytes()), nil
}

// conditionValue renders a condition value canonically.
func conditionValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case decimal.Decimal:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			s, err := conditionValue(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, "\x00"), nil
	case []string:
		return strings.Join(x, "\x00"), nil
	case map[string]any:
		h, err := conditionCommitment("", x)
		if err != nil {
			return "", err
		}
		return h.String(), nil
	}
	return "", fmt.Errorf("unsupported condition value type %T", v)
}
