package composer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// TxDefinition is one request of a batch. Type is empty or "regular" for a
// transfer, otherwise a conditional kind (or its transaction type) whose
// parameters are the remaining keys.
type TxDefinition struct {
	Type   string           `yaml:"type,omitempty" json:"type,omitempty"`
	To     string           `yaml:"to_address,omitempty" json:"to_address,omitempty"`
	Amount decimal.Decimal  `yaml:"amount" json:"amount"`
	Token  string           `yaml:"token_ticker,omitempty" json:"token_ticker,omitempty"`
	Fee    *decimal.Decimal `yaml:"fee,omitempty" json:"fee,omitempty"`
	Params map[string]any   `yaml:",inline" json:"params,omitempty"`
}

// kind returns the conditional kind of the definition, empty for a transfer.
func (d TxDefinition) kind() (Kind, error) {
	switch d.Type {
	case "", string(TxRegular), "transfer":
		return "", nil
	}
	for _, k := range Kinds {
		if d.Type == string(k) || d.Type == string(k.TxType()) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown transaction type %q", d.Type)
}

func (d TxDefinition) fee() decimal.Decimal {
	if d.Fee == nil {
		return dec(DefaultValidatorFee)
	}
	return *d.Fee
}

func (d TxDefinition) token(native string) string {
	if d.Token == "" {
		return native
	}
	return d.Token
}

// LoadDefinitions reads batch definitions from YAML: either a list or a
// mapping with a transactions list.
func LoadDefinitions(r io.Reader) ([]TxDefinition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, newError(ErrBatchProcessing, "load_definitions", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, newError(ErrBatchProcessing, "load_definitions", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	var defs []TxDefinition
	root := doc.Content[0]
	if root.Kind == yaml.MappingNode {
		var wrapped struct {
			Transactions []TxDefinition `yaml:"transactions"`
		}
		err = root.Decode(&wrapped)
		defs = wrapped.Transactions
	} else {
		err = root.Decode(&defs)
	}
	if err != nil {
		return nil, newError(ErrBatchProcessing, "load_definitions", err)
	}
	return defs, nil
}

// BatchItemError records why one definition failed.
type BatchItemError struct {
	Index  int    `json:"index"`
	Token  string `json:"token"`
	Reason string `json:"reason"`
	Err    error  `json:"-" yaml:"-"`
}

func (e BatchItemError) Error() string {
	return fmt.Sprintf("item %d (%s): %s", e.Index, e.Token, e.Reason)
}

func (e BatchItemError) Unwrap() error { return e.Err }

// BatchResult summarises a batch. SuccessfulCount + FailedCount equals the
// number of definitions and every failure has one entry in Errors.
type BatchResult struct {
	BatchID         string           `json:"batch_id"`
	Hashes          []string         `json:"transaction_hashes"`
	TotalFees       decimal.Decimal  `json:"total_fees"`
	FeeSavings      decimal.Decimal  `json:"fee_savings"`
	SuccessfulCount int              `json:"successful_count"`
	FailedCount     int              `json:"failed_count"`
	Errors          []BatchItemError `json:"errors"`
}

func newBatchResult() BatchResult {
	return BatchResult{
		BatchID:    uuid.NewString(),
		TotalFees:  decimal.Zero,
		FeeSavings: decimal.Zero,
	}
}

func (r *BatchResult) succeed(tx *Transaction) {
	r.Hashes = append(r.Hashes, tx.Hash)
	r.TotalFees = r.TotalFees.Add(tx.Fee.TotalFee)
	r.SuccessfulCount++
}

func (r *BatchResult) failItem(index int, token string, err error) {
	r.Errors = append(r.Errors, BatchItemError{Index: index, Token: token, Reason: err.Error(), Err: err})
	r.FailedCount++
}

// MultiTokenResult aggregates per-token batch results.
type MultiTokenResult struct {
	BatchID           string                 `json:"batch_id"`
	TokenResults      map[string]BatchResult `json:"token_results"`
	TotalTransactions int                    `json:"total_transactions"`
	TotalSuccessful   int                    `json:"total_successful"`
	TotalFailed       int                    `json:"total_failed"`
	TotalFees         decimal.Decimal        `json:"total_fees"`
	TotalSavings      decimal.Decimal        `json:"total_savings"`
}

// BatchProcessor composes many transactions in one call. A failing item is
// recorded and never stops its siblings.
type BatchProcessor struct {
	c           *Composer
	optimizer   *FeeOptimizer
	conditional *ConditionalProcessor
}

// NewBatchProcessor creates a batch processor. A nil optimizer uses the
// composer's fee schedule with the ledger's congestion.
func NewBatchProcessor(c *Composer, optimizer *FeeOptimizer) *BatchProcessor {
	if optimizer == nil {
		optimizer = NewFeeOptimizer(c.fees, c.ledger, c.logger)
	}
	return &BatchProcessor{
		c:           c,
		optimizer:   optimizer,
		conditional: NewConditionalProcessor(c),
	}
}

// CreateBatchTransactions composes every definition. Without optimization
// each is composed on its own. With optimization, definitions are grouped
// by token in order of first appearance; each group draws from one input
// set chosen by CalculateOptimalInputSelection over the group's total, and
// an item the remaining set cannot cover fails with
// ErrInsufficientFundsInBatch.
func (b *BatchProcessor) CreateBatchTransactions(ctx context.Context, defs []TxDefinition, optimizeFees bool) (BatchResult, error) {
	const op = "create_batch_transactions"
	res := newBatchResult()

	err := b.c.withLock(ctx, func(ctx context.Context) error {
		if optimizeFees {
			b.optimizedLocked(ctx, defs, &res)
		} else {
			b.simpleLocked(ctx, defs, &res)
		}
		return nil
	})
	if err != nil {
		return res, b.c.fail(op, asKind(ErrBatchProcessing, op, err))
	}

	b.c.metrics.observeBatch(res.SuccessfulCount, res.FailedCount)
	b.c.logger.Info("batch processed",
		zap.String("batch_id", res.BatchID),
		zap.Bool("optimized", optimizeFees),
		zap.Int("successful", res.SuccessfulCount),
		zap.Int("failed", res.FailedCount),
		zap.Stringer("total_fees", res.TotalFees),
		zap.Stringer("fee_savings", res.FeeSavings))
	return res, nil
}

func (b *BatchProcessor) simpleLocked(ctx context.Context, defs []TxDefinition, res *BatchResult) {
	native := b.c.NativeTicker()
	for i, def := range defs {
		tx, err := b.itemLocked(ctx, def, nil)
		if err != nil {
			b.itemFailed(res, i, def.token(native), err)
			continue
		}
		res.succeed(tx)
	}
}

type tokenGroup struct {
	token   string
	indexes []int
}

// groupByToken groups definition indexes by token in order of first
// appearance.
func groupByToken(defs []TxDefinition, native string) []*tokenGroup {
	var groups []*tokenGroup
	byToken := make(map[string]*tokenGroup)
	for i, def := range defs {
		t := def.token(native)
		g, ok := byToken[t]
		if !ok {
			g = &tokenGroup{token: t}
			byToken[t] = g
			groups = append(groups, g)
		}
		g.indexes = append(g.indexes, i)
	}
	return groups
}

func (b *BatchProcessor) optimizedLocked(ctx context.Context, defs []TxDefinition, res *BatchResult) {
	const op = "optimized_batch"
	native := b.c.NativeTicker()

	for _, g := range groupByToken(defs, native) {
		// Each item needs its amount from the pool, plus its fees when the
		// pool is in the native token
		needs := make(map[int]decimal.Decimal, len(g.indexes))
		total := decimal.Zero
		for _, i := range g.indexes {
			need := b.itemNeedLocked(ctx, op, defs[i], g.token, native)
			needs[i] = need
			total = total.Add(need)
		}

		available, err := b.c.availableOutputsLocked(ctx, op, g.token)
		var sel Selection
		if err == nil {
			sel, err = b.optimizer.CalculateOptimalInputSelection(total, g.token, available)
		}
		if err != nil {
			for _, i := range g.indexes {
				b.itemFailed(res, i, g.token, err)
			}
			continue
		}
		res.FeeSavings = res.FeeSavings.Add(sel.FeeSavings)

		b.c.logger.Debug("batch token group",
			zap.String("token", g.token),
			zap.Int("items", len(g.indexes)),
			zap.Stringer("required", total),
			zap.String("strategy", sel.Strategy),
			zap.Stringer("selected", sel.Total))

		pool := &inputPool{token: g.token, inputs: append([]TransactionInput(nil), sel.Inputs...)}
		for _, i := range g.indexes {
			if remaining := pool.remaining(); needs[i].GreaterThan(remaining) {
				b.itemFailed(res, i, g.token, &ComposeError{
					Kind:      ErrInsufficientFundsInBatch,
					Op:        op,
					Token:     g.token,
					Required:  needs[i],
					Available: remaining,
				})
				continue
			}
			tx, err := b.itemLocked(ctx, defs[i], pool)
			if err != nil {
				b.itemFailed(res, i, g.token, err)
				continue
			}
			res.succeed(tx)
		}
	}
}

// itemNeedLocked is what an item draws from its token's pool.
func (b *BatchProcessor) itemNeedLocked(ctx context.Context, op string, def TxDefinition, token, native string) decimal.Decimal {
	need := decimal.Max(def.Amount, decimal.Zero)
	if token != native {
		return need
	}
	fees, err := b.c.calculateFeesLocked(ctx, op, token, def.fee())
	if err != nil {
		return need.Add(def.fee())
	}
	return need.Add(fees.TotalFee)
}

func (b *BatchProcessor) itemLocked(ctx context.Context, def TxDefinition, pool *inputPool) (*Transaction, error) {
	const op = "batch_item"
	native := b.c.NativeTicker()
	token := def.token(native)

	kind, err := def.kind()
	if err != nil {
		return nil, newError(ErrBatchProcessing, op, err)
	}
	if def.Amount.IsNegative() {
		return nil, errorf(ErrBatchProcessing, op, "amount %s is negative", def.Amount)
	}

	var tx *Transaction
	if kind == "" {
		tx, err = b.c.createTxLocked(ctx, def.To, def.Amount, token, def.fee(), pool)
		b.c.metrics.observeComposition(TxRegular, token, tx, err)
		return tx, err
	}

	params := make(map[string]any, len(def.Params)+1)
	for k, v := range def.Params {
		params[k] = v
	}
	if kind == KindExchange && def.Token != "" && params["token_sell"] == nil {
		params["token_sell"] = def.Token
	}
	tx, err = b.conditional.createLocked(ctx, kind, def.Amount, def.fee(), params, pool)
	b.c.metrics.observeComposition(kind.TxType(), token, tx, err)
	return tx, conditionalErr(op, err)
}

func (b *BatchProcessor) itemFailed(res *BatchResult, index int, token string, err error) {
	b.c.logger.Warn("batch item failed",
		zap.String("batch_id", res.BatchID),
		zap.Int("index", index),
		zap.String("token", token),
		zap.Error(err))
	res.failItem(index, token, err)
}

// CreateMultiTokenBatch runs one optimized batch per token, in sorted token
// order, and aggregates the results. Definitions without a token take the
// token they are listed under.
func (b *BatchProcessor) CreateMultiTokenBatch(ctx context.Context, ops map[string][]TxDefinition) (MultiTokenResult, error) {
	const op = "create_multi_token_batch"
	out := MultiTokenResult{
		BatchID:      uuid.NewString(),
		TokenResults: make(map[string]BatchResult, len(ops)),
		TotalFees:    decimal.Zero,
		TotalSavings: decimal.Zero,
	}

	tokens := make([]string, 0, len(ops))
	for t := range ops {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	for _, token := range tokens {
		if token == "" {
			return out, b.c.fail(op, errorf(ErrBatchProcessing, op, "empty token in multi-token batch"))
		}
		defs := make([]TxDefinition, len(ops[token]))
		for i, def := range ops[token] {
			if def.Token == "" {
				def.Token = token
			}
			defs[i] = def
		}

		b.c.logger.Info("processing token batch", zap.String("token", token), zap.Int("operations", len(defs)))
		res, err := b.CreateBatchTransactions(ctx, defs, true)
		if err != nil {
			if errors.Is(err, ErrComposerClosed) {
				return out, err
			}
			return out, asKind(ErrBatchProcessing, op, err)
		}

		out.TokenResults[token] = res
		out.TotalTransactions += len(defs)
		out.TotalSuccessful += res.SuccessfulCount
		out.TotalFailed += res.FailedCount
		out.TotalFees = out.TotalFees.Add(res.TotalFees)
		out.TotalSavings = out.TotalSavings.Add(res.FeeSavings)
	}

	b.c.logger.Info("multi-token batch completed",
		zap.String("batch_id", out.BatchID),
		zap.Int("successful", out.TotalSuccessful),
		zap.Int("transactions", out.TotalTransactions),
		zap.Stringer("total_savings", out.TotalSavings))
	return out, nil
}
