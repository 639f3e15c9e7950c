package composer

import (
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Selection strategy names
const (
	StrategyExactMatch    = "exact_match"
	StrategyMinimalInputs = "minimal_inputs"
	StrategyConsolidation = "consolidation"
	StrategyBalanced      = "balanced"
	StrategyGreedy        = "greedy"
)

// Selection is an input set chosen by CalculateOptimalInputSelection.
type Selection struct {
	Strategy   string
	Inputs     []TransactionInput
	Total      decimal.Decimal
	FeeSavings decimal.Decimal
	Score      decimal.Decimal
	// Covers is false only for a greedy fallback that ran out of candidates
	Covers bool
}

// Change returns the value selected beyond required.
func (s Selection) Change(required decimal.Decimal) decimal.Decimal {
	return s.Total.Sub(required)
}

// Score weights
var (
	weightFeeSavings = dec("0.3")
	weightInputCount = dec("0.2")
	weightChangeSize = dec("0.3")
	weightUTXOHealth = dec("0.2")
)

// CalculateOptimalInputSelection runs the exact-match, minimal-inputs,
// consolidation and balanced strategies over the token's candidates and
// returns the best scored one. Ties keep the earlier strategy. When no
// strategy reaches required, a greedy selection with zero savings is
// returned; its Covers field tells whether it suffices.
func (o *FeeOptimizer) CalculateOptimalInputSelection(required decimal.Decimal, token string, available []TransactionInput) (Selection, error) {
	const op = "calculate_optimal_input_selection"
	if token == "" {
		return Selection{}, newError(ErrInvalidTicker, op, nil)
	}

	candidates := filterToken(available, token)
	if len(candidates) == 0 {
		return Selection{}, errorf(ErrInputSelection, op, "no available outputs in %s", token)
	}

	strategies := []func([]TransactionInput, decimal.Decimal) (Selection, bool){
		strategyExactMatch,
		strategyMinimalInputs,
		strategyConsolidation,
		strategyBalanced,
	}

	var (
		best  Selection
		found bool
	)
	for _, strategy := range strategies {
		sel, ok := strategy(candidates, required)
		if !ok {
			continue
		}
		sel.Score = scoreSelection(sel, required)
		sel.Covers = true
		if !found || sel.Score.GreaterThan(best.Score) {
			best = sel
			found = true
		}
	}

	if !found {
		best = fallbackSelection(candidates, required)
	}

	o.logger.Debug("input selection",
		zap.String("strategy", best.Strategy),
		zap.Int("inputs", len(best.Inputs)),
		zap.Stringer("total", best.Total),
		zap.Stringer("savings", best.FeeSavings))
	return best, nil
}

func strategyExactMatch(outputs []TransactionInput, required decimal.Decimal) (Selection, bool) {
	for _, out := range outputs {
		if out.Value.Equal(required) {
			return Selection{
				Strategy:   StrategyExactMatch,
				Inputs:     []TransactionInput{out},
				Total:      out.Value,
				FeeSavings: dec("0.001"),
			}, true
		}
	}
	return Selection{}, false
}

func strategyMinimalInputs(outputs []TransactionInput, required decimal.Decimal) (Selection, bool) {
	sorted := sortedBy(outputs, func(a, b TransactionInput) bool { return a.Value.GreaterThan(b.Value) })

	var selected []TransactionInput
	total := decimal.Zero
	for _, out := range sorted {
		selected = append(selected, out)
		total = total.Add(out.Value)
		if total.GreaterThanOrEqual(required) {
			unused := int64(len(outputs) - len(selected))
			return Selection{
				Strategy:   StrategyMinimalInputs,
				Inputs:     selected,
				Total:      total,
				FeeSavings: dec("0.0001").Mul(decimal.NewFromInt(unused)),
			}, true
		}
	}
	return Selection{}, false
}

func strategyConsolidation(outputs []TransactionInput, required decimal.Decimal) (Selection, bool) {
	sorted := sortedBy(outputs, func(a, b TransactionInput) bool { return a.Value.LessThan(b.Value) })

	var selected []TransactionInput
	total := decimal.Zero
	for _, out := range sorted {
		if total.GreaterThanOrEqual(required) {
			break
		}
		selected = append(selected, out)
		total = total.Add(out.Value)
	}
	if total.LessThan(required) {
		return Selection{}, false
	}
	return Selection{
		Strategy:   StrategyConsolidation,
		Inputs:     selected,
		Total:      total,
		FeeSavings: dec("0.00005").Mul(decimal.NewFromInt(int64(len(selected)))),
	}, true
}

func strategyBalanced(outputs []TransactionInput, required decimal.Decimal) (Selection, bool) {
	sorted := sortedBy(outputs, func(a, b TransactionInput) bool {
		return a.Value.Sub(required).Abs().LessThan(b.Value.Sub(required).Abs())
	})

	var selected []TransactionInput
	total := decimal.Zero
	for _, out := range sorted {
		selected = append(selected, out)
		total = total.Add(out.Value)
		if total.GreaterThanOrEqual(required) {
			return Selection{
				Strategy:   StrategyBalanced,
				Inputs:     selected,
				Total:      total,
				FeeSavings: dec("0.0002"),
			}, true
		}
		if len(selected) >= 5 {
			break
		}
	}
	return Selection{}, false
}

// fallbackSelection is plain greedy selection with no savings.
func fallbackSelection(outputs []TransactionInput, required decimal.Decimal) Selection {
	sorted := sortedBy(outputs, func(a, b TransactionInput) bool { return a.Value.GreaterThan(b.Value) })

	var selected []TransactionInput
	total := decimal.Zero
	for _, out := range sorted {
		selected = append(selected, out)
		total = total.Add(out.Value)
		if total.GreaterThanOrEqual(required) {
			break
		}
	}
	return Selection{
		Strategy:   StrategyGreedy,
		Inputs:     selected,
		Total:      total,
		FeeSavings: decimal.Zero,
		Covers:     total.GreaterThanOrEqual(required),
	}
}

// scoreSelection weighs fee savings, input count, change size and the
// average input size of a selection.
func scoreSelection(sel Selection, required decimal.Decimal) decimal.Decimal {
	ten := decimal.NewFromInt(10)
	n := decimal.NewFromInt(int64(len(sel.Inputs)))

	feeScore := sel.FeeSavings.Mul(decimal.NewFromInt(1000))
	inputScore := decimal.Max(decimal.Zero, ten.Sub(n))
	changeScore := decimal.Max(decimal.Zero, ten.Sub(sel.Total.Sub(required)))

	health := decimal.NewFromInt(1)
	if len(sel.Inputs) > 0 {
		avg := sel.Total.Div(n)
		if avg.GreaterThanOrEqual(dec("0.1")) && avg.LessThanOrEqual(decimal.NewFromInt(1)) {
			health = decimal.NewFromInt(5)
		}
	}

	return feeScore.Mul(weightFeeSavings).
		Add(inputScore.Mul(weightInputCount)).
		Add(changeScore.Mul(weightChangeSize)).
		Add(health.Mul(weightUTXOHealth))
}

func sortedBy(outputs []TransactionInput, less func(a, b TransactionInput) bool) []TransactionInput {
	sorted := make([]TransactionInput, len(outputs))
	copy(sorted, outputs)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	return sorted
}
