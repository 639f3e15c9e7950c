// Package composer turns payment, staking, exchange, voting, delegation and
// service-payment intents into complete, signed transactions: it selects
// inputs, computes and optimizes fees, builds regular and conditional
// outputs and batches many requests at once.
package composer

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TxType is the transaction type tag carried by an assembled transaction
type TxType string

const (
	TxRegular      TxType = "regular"
	TxCrossChain   TxType = "crosschain"
	TxServicePay   TxType = "srv_pay"
	TxExchange     TxType = "srv_xchange"
	TxStakeLock    TxType = "srv_stake_lock"
	TxDelegation   TxType = "srv_stake_pos_delegate"
	TxVoting       TxType = "voting"
	TxDecreeCommon TxType = "decree_common"
)

// Kind identifies a conditional output family
type Kind string

const (
	KindStakeLock      Kind = "stake_lock"
	KindExchange       Kind = "exchange"
	KindVoting         Kind = "voting"
	KindServicePayment Kind = "service_payment"
	KindDelegation     Kind = "delegation"
)

// Kinds lists every conditional kind in routing order.
var Kinds = []Kind{KindStakeLock, KindExchange, KindVoting, KindServicePayment, KindDelegation}

// TxType returns the transaction type used for outputs of this kind.
func (k Kind) TxType() TxType {
	switch k {
	case KindStakeLock:
		return TxStakeLock
	case KindExchange:
		return TxExchange
	case KindVoting:
		return TxVoting
	case KindServicePayment:
		return TxServicePay
	case KindDelegation:
		return TxDelegation
	}
	return TxRegular
}

// OutputType tags a transaction output
type OutputType string

const (
	OutputRegular      OutputType = "regular"
	OutputFee          OutputType = "fee"
	OutputValidatorFee OutputType = "validator_fee"
	OutputCoinBack     OutputType = "coin_back"
	// OutputPenalty burns the penalty of an early stake unlock
	OutputPenalty OutputType = "penalty"
)

// ConditionalOutput returns the output type of a conditional output of kind k.
func ConditionalOutput(k Kind) OutputType {
	return OutputType("conditional_" + string(k))
}

// ComposeConfig identifies the network a Composer works on
type ComposeConfig struct {
	NetName   string
	URL       string
	Port      int
	CertPath  string
	Encrypted bool
}

// NewComposeConfig creates a config; Encrypted follows CertPath.
func NewComposeConfig(netName, url string, port int, certPath string) ComposeConfig {
	return ComposeConfig{
		NetName:   netName,
		URL:       url,
		Port:      port,
		CertPath:  certPath,
		Encrypted: certPath != "",
	}
}

// FeeStructure is the fee charged on one transaction
type FeeStructure struct {
	NetworkFee   decimal.Decimal
	ValidatorFee decimal.Decimal
	TotalFee     decimal.Decimal
	FeeAddress   string
}

// NewFeeStructure builds a FeeStructure whose TotalFee is network + validator.
func NewFeeStructure(network, validator decimal.Decimal, feeAddress string) FeeStructure {
	return FeeStructure{
		NetworkFee:   network,
		ValidatorFee: validator,
		TotalFee:     network.Add(validator),
		FeeAddress:   feeAddress,
	}
}

// TransactionInput references a previously created output
type TransactionInput struct {
	TxHash      string
	OutputIndex uint32
	Value       decimal.Decimal
	Token       string
}

// TransactionOutput is one output of a composed transaction. Address is
// empty for fee, validator-fee, penalty and voting outputs.
type TransactionOutput struct {
	Address    string
	Value      decimal.Decimal
	Token      string
	Type       OutputType
	Conditions map[string]any
	Script     []byte
}

// IsConditional reports whether the output carries a condition.
func (o TransactionOutput) IsConditional() bool {
	return strings.HasPrefix(string(o.Type), "conditional_")
}

// Transaction is a composed and signed transaction
type Transaction struct {
	Hash      string
	Type      TxType
	Operation string
	Network   string
	Wallet    string
	Inputs    []TransactionInput
	Outputs   []TransactionOutput
	Fee       FeeStructure
	Signature []byte
	Raw       []byte
}

// DefaultValidatorFee is used when a caller passes no validator fee.
const DefaultValidatorFee = "0.01"

func sumInputs(inputs []TransactionInput) decimal.Decimal {
	total := decimal.Zero
	for _, in := range inputs {
		total = total.Add(in.Value)
	}
	return total
}
