package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	composer "github.com/SashaZezulinsky/cellframe-composer"
	"github.com/SashaZezulinsky/cellframe-composer/ledger"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cf-composer version %s\n", version)
	},
}

var (
	transferTo     string
	transferAmount string
	transferToken  string
	transferFee    string
)

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Compose a transfer to an address",
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, fee, err := amountAndFee(transferAmount, transferFee)
		if err != nil {
			return err
		}
		tx, err := comp.ComposeTx(cmd.Context(), transferTo, amount, tokenOrNative(transferToken), fee)
		if err != nil {
			return err
		}
		return printYAML(cmd.OutOrStdout(), txSummary(tx))
	},
}

var (
	feeTxType   string
	feeAmount   string
	feeToken    string
	feePriority string
)

var estimateFeeCmd = &cobra.Command{
	Use:   "estimate-fee",
	Short: "Estimate the fee of a transaction type",
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(feeAmount)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		fee, err := comp.EstimateFee(cmd.Context(), composer.TxType(feeTxType), amount, tokenOrNative(feeToken))
		if err != nil {
			return err
		}
		return printYAML(cmd.OutOrStdout(), feeSummary(fee))
	},
}

var optimizeFeeCmd = &cobra.Command{
	Use:   "optimize-fee",
	Short: "Optimize the validator fee for a priority and the current congestion",
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(feeAmount)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		opt := composer.NewFeeOptimizer(comp.FeeSchedule(), comp.Ledger(), logger)
		fee, err := opt.OptimizeFees(cmd.Context(), composer.TxType(feeTxType), amount,
			tokenOrNative(feeToken), composer.Priority(feePriority))
		if err != nil {
			return err
		}
		return printYAML(cmd.OutOrStdout(), feeSummary(fee))
	},
}

var (
	stakeAmount   string
	stakeLockTime string
	stakeReinvest string
	stakeFee      string
)

var stakeLockCmd = &cobra.Command{
	Use:   "stake-lock",
	Short: "Lock stake until a YYMMDD date",
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, fee, err := amountAndFee(stakeAmount, stakeFee)
		if err != nil {
			return err
		}
		reinvest, err := decimal.NewFromString(stakeReinvest)
		if err != nil {
			return fmt.Errorf("reinvest: %w", err)
		}
		stake := composer.NewStakeLockProcessor(comp)
		hash, err := stake.CreateStakeLockOrder(cmd.Context(), amount, stakeLockTime, reinvest, fee)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var (
	penaltyLocked   string
	penaltyUnlock   string
	penaltyLockTime string
	penaltyCompound string
)

var penaltiesCmd = &cobra.Command{
	Use:   "penalties",
	Short: "Show the penalties of unlocking stake before its lock time",
	RunE: func(cmd *cobra.Command, args []string) error {
		locked, err := decimal.NewFromString(penaltyLocked)
		if err != nil {
			return fmt.Errorf("locked: %w", err)
		}
		unlock := locked
		if penaltyUnlock != "" {
			if unlock, err = decimal.NewFromString(penaltyUnlock); err != nil {
				return fmt.Errorf("unlock: %w", err)
			}
		}
		lock := ledger.StakeLock{Amount: locked, LockTime: penaltyLockTime, Token: comp.NativeTicker()}
		if penaltyCompound != "" {
			compounded, err := decimal.NewFromString(penaltyCompound)
			if err != nil {
				return fmt.Errorf("compounded: %w", err)
			}
			lock.CompoundHistory = []ledger.CompoundEntry{{Amount: compounded}}
		}
		res := composer.NewStakeLockProcessor(comp).Penalties(lock, unlock)
		return printYAML(cmd.OutOrStdout(), map[string]string{
			"unlock_amount":      res.UnlockAmount.String(),
			"time_penalty":       res.TimePenalty.String(),
			"amount_penalty":     res.AmountPenalty.String(),
			"compound_penalty":   res.CompoundPenalty.String(),
			"total_penalty":      res.TotalPenalty.String(),
			"net_amount":         res.NetAmount.String(),
			"penalty_percentage": res.PenaltyPercentage.StringFixed(2),
		})
	},
}

var (
	batchFile     string
	batchOptimize bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Compose every transaction listed in a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(batchFile)
		if err != nil {
			return err
		}
		defer f.Close()

		defs, err := composer.LoadDefinitions(f)
		if err != nil {
			return err
		}
		res, err := composer.NewBatchProcessor(comp, nil).CreateBatchTransactions(cmd.Context(), defs, batchOptimize)
		if err != nil {
			return err
		}

		out := map[string]any{
			"batch_id":           res.BatchID,
			"successful":         res.SuccessfulCount,
			"failed":             res.FailedCount,
			"total_fees":         res.TotalFees.String(),
			"fee_savings":        res.FeeSavings.String(),
			"transaction_hashes": res.Hashes,
		}
		if len(res.Errors) > 0 {
			errs := make([]string, 0, len(res.Errors))
			for _, e := range res.Errors {
				errs = append(errs, e.Error())
			}
			out["errors"] = errs
		}
		return printYAML(cmd.OutOrStdout(), out)
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List transaction templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		tpls := composer.NewTemplates(comp).Available()
		sort.Slice(tpls, func(i, j int) bool { return tpls[i].Name < tpls[j].Name })
		return printYAML(cmd.OutOrStdout(), tpls)
	},
}

func init() {
	transferCmd.Flags().StringVar(&transferTo, "to", "", "recipient address")
	transferCmd.Flags().StringVar(&transferAmount, "amount", "", "amount to send")
	transferCmd.Flags().StringVar(&transferToken, "token", "", "token ticker (native by default)")
	transferCmd.Flags().StringVar(&transferFee, "fee", composer.DefaultValidatorFee, "validator fee")
	_ = transferCmd.MarkFlagRequired("to")
	_ = transferCmd.MarkFlagRequired("amount")

	for _, c := range []*cobra.Command{estimateFeeCmd, optimizeFeeCmd} {
		c.Flags().StringVar(&feeTxType, "type", string(composer.TxRegular), "transaction type")
		c.Flags().StringVar(&feeAmount, "amount", "0", "transaction amount")
		c.Flags().StringVar(&feeToken, "token", "", "token ticker (native by default)")
	}
	optimizeFeeCmd.Flags().StringVar(&feePriority, "priority", string(composer.PriorityBalanced), "low, balanced, high or urgent")

	stakeLockCmd.Flags().StringVar(&stakeAmount, "amount", "", "amount to lock")
	stakeLockCmd.Flags().StringVar(&stakeLockTime, "lock-time", time.Now().UTC().AddDate(0, 3, 0).Format("060102"), "unlock date, YYMMDD")
	stakeLockCmd.Flags().StringVar(&stakeReinvest, "reinvest", "0", "percent of rewards reinvested")
	stakeLockCmd.Flags().StringVar(&stakeFee, "fee", composer.DefaultValidatorFee, "validator fee")
	_ = stakeLockCmd.MarkFlagRequired("amount")

	penaltiesCmd.Flags().StringVar(&penaltyLocked, "locked", "", "amount locked")
	penaltiesCmd.Flags().StringVar(&penaltyUnlock, "unlock", "", "amount to unlock (all by default)")
	penaltiesCmd.Flags().StringVar(&penaltyLockTime, "lock-time", "", "unlock date of the lock, YYMMDD")
	penaltiesCmd.Flags().StringVar(&penaltyCompound, "compounded", "", "rewards compounded into the lock")
	_ = penaltiesCmd.MarkFlagRequired("locked")
	_ = penaltiesCmd.MarkFlagRequired("lock-time")

	batchCmd.Flags().StringVar(&batchFile, "file", "", "YAML file of transaction definitions")
	batchCmd.Flags().BoolVar(&batchOptimize, "optimize", false, "select inputs jointly per token")
	_ = batchCmd.MarkFlagRequired("file")
}

func tokenOrNative(token string) string {
	if token == "" {
		return comp.NativeTicker()
	}
	return token
}

func amountAndFee(amount, fee string) (decimal.Decimal, decimal.Decimal, error) {
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("amount: %w", err)
	}
	f, err := decimal.NewFromString(fee)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("fee: %w", err)
	}
	return a, f, nil
}

func feeSummary(fee composer.FeeStructure) map[string]string {
	return map[string]string{
		"network_fee":   fee.NetworkFee.String(),
		"validator_fee": fee.ValidatorFee.String(),
		"total_fee":     fee.TotalFee.String(),
	}
}

type outputSummary struct {
	Type    string `yaml:"type"`
	Address string `yaml:"address,omitempty"`
	Value   string `yaml:"value"`
	Token   string `yaml:"token"`
}

func txSummary(tx *composer.Transaction) map[string]any {
	outs := make([]outputSummary, 0, len(tx.Outputs))
	for _, o := range tx.Outputs {
		outs = append(outs, outputSummary{
			Type:    string(o.Type),
			Address: o.Address,
			Value:   o.Value.String(),
			Token:   o.Token,
		})
	}
	return map[string]any{
		"hash":    tx.Hash,
		"type":    string(tx.Type),
		"inputs":  len(tx.Inputs),
		"outputs": outs,
		"fee":     feeSummary(tx.Fee),
	}
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
