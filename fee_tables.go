package composer

import (
	"github.com/shopspring/decimal"
)

// FeeLimit is the band a token's optimized validator fee is clamped to
type FeeLimit struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Clamp returns v limited to [Min, Max].
func (l FeeLimit) Clamp(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(l.Min) {
		return l.Min
	}
	if v.GreaterThan(l.Max) {
		return l.Max
	}
	return v
}

// FeeSchedule holds the static tables used when no live value is available.
// Every table has a default entry for keys it does not list.
type FeeSchedule struct {
	BaseValidatorFee decimal.Decimal

	NetworkFees       map[string]decimal.Decimal
	DefaultNetworkFee decimal.Decimal

	Limits       map[string]FeeLimit
	DefaultLimit FeeLimit

	NativeTickers       map[string]string
	DefaultNativeTicker string

	TypeMultipliers map[TxType]decimal.Decimal
	PriorityFactors map[Priority]decimal.Decimal

	MarketRates       map[string]decimal.Decimal
	DefaultMarketRate decimal.Decimal
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// DefaultFeeSchedule returns the built-in fallback tables.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		BaseValidatorFee: dec("0.01"),
		NetworkFees: map[string]decimal.Decimal{
			"CELL":  dec("0.001"),
			"mCELL": dec("0.01"),
			"tCELL": dec("0.001"),
			"KEL":   dec("0.0005"),
		},
		DefaultNetworkFee: dec("0.001"),
		Limits: map[string]FeeLimit{
			"CELL":  {Min: dec("0.001"), Max: dec("10")},
			"mCELL": {Min: dec("0.01"), Max: dec("100")},
			"tCELL": {Min: dec("0.001"), Max: dec("5")},
			"KEL":   {Min: dec("0.001"), Max: dec("1")},
		},
		DefaultLimit: FeeLimit{Min: dec("0.001"), Max: dec("1")},
		NativeTickers: map[string]string{
			"mainnet":        "CELL",
			"Backbone":       "CELL",
			"testnet":        "tCELL",
			"mileena":        "mCELL",
			"kelvin-testnet": "KEL",
		},
		DefaultNativeTicker: "CELL",
		TypeMultipliers: map[TxType]decimal.Decimal{
			TxRegular:      dec("1.0"),
			TxCrossChain:   dec("2.0"),
			TxExchange:     dec("1.5"),
			TxStakeLock:    dec("1.2"),
			TxDecreeCommon: dec("3.0"),
		},
		PriorityFactors: map[Priority]decimal.Decimal{
			PriorityLow:      dec("0.5"),
			PriorityBalanced: dec("1.0"),
			PriorityHigh:     dec("1.5"),
			PriorityUrgent:   dec("2.0"),
		},
		MarketRates: map[string]decimal.Decimal{
			"CELL/USDT": dec("1.25"),
			"USDT/CELL": dec("0.8"),
			"CELL/BTC":  dec("0.00001"),
			"BTC/CELL":  dec("100000"),
		},
		DefaultMarketRate: dec("1.0"),
	}
}

// NetworkFee returns the static network fee for token.
func (s FeeSchedule) NetworkFee(token string) decimal.Decimal {
	if v, ok := s.NetworkFees[token]; ok {
		return v
	}
	return s.DefaultNetworkFee
}

// Limit returns the validator fee band for token.
func (s FeeSchedule) Limit(token string) FeeLimit {
	if v, ok := s.Limits[token]; ok {
		return v
	}
	return s.DefaultLimit
}

// NativeTicker returns the fee token of network.
func (s FeeSchedule) NativeTicker(network string) string {
	if v, ok := s.NativeTickers[network]; ok {
		return v
	}
	return s.DefaultNativeTicker
}

// TypeMultiplier returns the validator fee multiplier for t.
func (s FeeSchedule) TypeMultiplier(t TxType) decimal.Decimal {
	if v, ok := s.TypeMultipliers[t]; ok {
		return v
	}
	return decimal.NewFromInt(1)
}

// PriorityFactor returns the multiplier for p; unknown priorities get 1.0.
func (s FeeSchedule) PriorityFactor(p Priority) decimal.Decimal {
	if v, ok := s.PriorityFactors[p]; ok {
		return v
	}
	return decimal.NewFromInt(1)
}

// MarketRate returns the static rate for a sell/buy pair.
func (s FeeSchedule) MarketRate(sell, buy string) decimal.Decimal {
	if v, ok := s.MarketRates[sell+"/"+buy]; ok {
		return v
	}
	return s.DefaultMarketRate
}
