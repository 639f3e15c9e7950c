package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SashaZezulinsky/cellframe-composer/ledger"
)

// Default max_votes of simple and multiple-choice votings
const DefaultMaxVotes = 1000

// ProposalParams open a voting.
type ProposalParams struct {
	Question             string
	Options              []string
	MaxVotes             int
	ExpireTime           string
	DelegatedKeyRequired bool
	VoteChangingAllowed  bool
}

func (ProposalParams) Kind() Kind { return KindVoting }

func (p ProposalParams) Conditions() map[string]any {
	m := map[string]any{
		"question":               p.Question,
		"options":                append([]string(nil), p.Options...),
		"max_votes":              p.MaxVotes,
		"delegated_key_required": p.DelegatedKeyRequired,
		"vote_changing_allowed":  p.VoteChangingAllowed,
	}
	if p.ExpireTime != "" {
		m["expire_time"] = p.ExpireTime
	}
	return m
}

func (p ProposalParams) validate(now time.Time) error {
	if strings.TrimSpace(p.Question) == "" {
		return errors.New("question is required")
	}
	if len(p.Options) < 2 {
		return fmt.Errorf("a voting needs at least 2 options, got %d", len(p.Options))
	}
	seen := make(map[string]bool, len(p.Options))
	for _, o := range p.Options {
		if strings.TrimSpace(o) == "" {
			return errors.New("voting options must not be empty")
		}
		if seen[o] {
			return fmt.Errorf("duplicate voting option %q", o)
		}
		seen[o] = true
	}
	if p.MaxVotes <= 0 {
		return fmt.Errorf("max_votes %d must be positive", p.MaxVotes)
	}
	if p.ExpireTime != "" {
		exp, err := parseDate(p.ExpireTime)
		if err != nil {
			return err
		}
		if !exp.After(today(now)) {
			return fmt.Errorf("expire_time %s is not in the future", p.ExpireTime)
		}
	}
	return nil
}

// VoteParams cast a vote on an open voting.
type VoteParams struct {
	VotingHash string
	VoteOption string
	// VoteWeight defaults to 1
	VoteWeight int
}

func (VoteParams) Kind() Kind { return KindVoting }

func (p VoteParams) Conditions() map[string]any {
	return map[string]any{
		"voting_hash": p.VotingHash,
		"vote_option": p.VoteOption,
		"vote_weight": p.weight(),
	}
}

func (p VoteParams) weight() int {
	if p.VoteWeight == 0 {
		return 1
	}
	return p.VoteWeight
}

func (p VoteParams) validate(time.Time) error {
	if p.VotingHash == "" {
		return errors.New("voting_hash is required")
	}
	if p.VoteOption == "" {
		return errors.New("vote_option is required")
	}
	if p.VoteWeight < 0 {
		return fmt.Errorf("vote_weight %d is negative", p.VoteWeight)
	}
	return nil
}

// VotingProcessor creates votings and casts votes. Voting outputs carry no
// value and no address.
type VotingProcessor struct {
	c *Composer
}

// NewVotingProcessor creates a voting processor over c.
func NewVotingProcessor(c *Composer) *VotingProcessor {
	return &VotingProcessor{c: c}
}

func (p *VotingProcessor) TransactionType() Kind { return KindVoting }

// ValidateParams accepts a proposal (question, options, max_votes) or a
// vote (voting_hash, vote_option, vote_weight).
func (p *VotingProcessor) ValidateParams(raw map[string]any) (Params, error) {
	const op = "validate_params"
	var (
		out Params
		err error
	)
	switch {
	case raw["question"] != nil:
		if err := missingParams(KindVoting, raw, "question", "options", "max_votes"); err != nil {
			return nil, err
		}
		var pp ProposalParams
		err = decodeParams(
			func() (err error) { pp.Question, err = paramString(raw, "question"); return },
			func() (err error) { pp.Options, err = paramStrings(raw, "options"); return },
			func() (err error) { pp.MaxVotes, err = paramInt(raw, "max_votes"); return },
			func() (err error) { pp.ExpireTime, err = paramString(raw, "expire_time"); return },
			func() (err error) { pp.DelegatedKeyRequired, err = paramBool(raw, "delegated_key_required"); return },
			func() (err error) { pp.VoteChangingAllowed, err = paramBool(raw, "vote_changing_allowed"); return },
		)
		out = pp
	case raw["voting_hash"] != nil:
		if err := missingParams(KindVoting, raw, "voting_hash", "vote_option"); err != nil {
			return nil, err
		}
		var vp VoteParams
		err = decodeParams(
			func() (err error) { vp.VotingHash, err = paramString(raw, "voting_hash"); return },
			func() (err error) { vp.VoteOption, err = paramString(raw, "vote_option"); return },
			func() (err error) { vp.VoteWeight, err = paramInt(raw, "vote_weight"); return },
		)
		out = vp
	default:
		return nil, errorf(ErrConditionalTransaction, op,
			"either question (proposal) or voting_hash (vote) must be provided")
	}
	if err != nil {
		return nil, err
	}
	if err := out.validate(p.c.now()); err != nil {
		return nil, newError(ErrConditionalTransaction, op, err)
	}
	return out, nil
}

// CreateConditionalOutput builds a zero-value voting output in the native
// token.
func (p *VotingProcessor) CreateConditionalOutput(value decimal.Decimal, params Params) (TransactionOutput, error) {
	switch params.(type) {
	case ProposalParams, VoteParams:
	default:
		return TransactionOutput{}, errorf(ErrConditionalTransaction, "create_conditional_output", "unexpected %T", params)
	}
	return TransactionOutput{
		Value:      value,
		Token:      p.c.NativeTicker(),
		Type:       ConditionalOutput(KindVoting),
		Conditions: params.Conditions(),
	}, nil
}

// CreateConditionalTransaction composes a proposal or a vote.
func (p *VotingProcessor) CreateConditionalTransaction(ctx context.Context, value, fee decimal.Decimal, params Params) (string, error) {
	if _, ok := params.(VoteParams); ok {
		return p.c.createConditional(ctx, p, "create_vote_transaction", decimal.Zero, fee, params)
	}
	return p.c.createConditional(ctx, p, "create_voting", value, fee, params)
}

// CreateVotingProposal opens a voting. An empty expireTime means none.
func (p *VotingProcessor) CreateVotingProposal(ctx context.Context, question string, options []string, maxVotes int, fee decimal.Decimal, expireTime string) (string, error) {
	return p.c.createConditional(ctx, p, "create_voting_proposal", decimal.Zero, fee, ProposalParams{
		Question:   question,
		Options:    options,
		MaxVotes:   maxVotes,
		ExpireTime: expireTime,
	})
}

// CreateVoteTransaction votes for option on the voting votingHash. A zero
// weight counts as 1.
func (p *VotingProcessor) CreateVoteTransaction(ctx context.Context, votingHash, option string, fee decimal.Decimal, weight int) (string, error) {
	return p.c.createConditional(ctx, p, "create_vote_transaction", decimal.Zero, fee, VoteParams{
		VotingHash: votingHash,
		VoteOption: option,
		VoteWeight: weight,
	})
}

// checkLocked rejects votes on a closed voting or for an option it does not
// offer. When the ledger cannot tell, the check is skipped.
func (p *VotingProcessor) checkLocked(ctx context.Context, op string, params Params) error {
	vp, ok := params.(VoteParams)
	if !ok {
		return nil
	}
	res, err := p.c.ledger.VotingResult(ctx, vp.VotingHash)
	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		return nil
	case err != nil:
		return newError(ErrConditionalTransaction, op, err)
	case res.Status != "active":
		return errorf(ErrConditionalTransaction, op, "voting %s is %s", vp.VotingHash, res.Status)
	}
	if _, ok := res.Results[vp.VoteOption]; !ok {
		return errorf(ErrConditionalTransaction, op, "voting %s has no option %q", vp.VotingHash, vp.VoteOption)
	}
	return nil
}

// CreateSimpleVoting opens a Yes/No voting, or Approve/Reject when yesNo is
// false. A non-positive maxVotes means DefaultMaxVotes.
func (p *VotingProcessor) CreateSimpleVoting(ctx context.Context, question string, yesNo bool, maxVotes int, fee decimal.Decimal) (string, error) {
	options := []string{"Yes", "No"}
	if !yesNo {
		options = []string{"Approve", "Reject"}
	}
	if maxVotes <= 0 {
		maxVotes = DefaultMaxVotes
	}
	return p.CreateVotingProposal(ctx, question, options, maxVotes, fee, "")
}

// CreateMultipleChoiceVoting opens a voting over choices.
func (p *VotingProcessor) CreateMultipleChoiceVoting(ctx context.Context, question string, choices []string, maxVotes int, fee decimal.Decimal) (string, error) {
	if maxVotes <= 0 {
		maxVotes = DefaultMaxVotes
	}
	return p.CreateVotingProposal(ctx, question, choices, maxVotes, fee, "")
}

// GetVotingProposals lists proposals with status; "all" or empty lists
// every proposal.
func (p *VotingProcessor) GetVotingProposals(ctx context.Context, status string) ([]ledger.Proposal, error) {
	if status == "all" {
		status = ""
	}
	return query(ctx, p.c, "get_voting_proposals", func(ctx context.Context, l ledger.Ledger) ([]ledger.Proposal, error) {
		return l.Proposals(ctx, status)
	})
}

// GetVotingResults tallies the votes of one voting.
func (p *VotingProcessor) GetVotingResults(ctx context.Context, votingHash string) (ledger.VotingResult, error) {
	return query(ctx, p.c, "get_voting_results", func(ctx context.Context, l ledger.Ledger) (ledger.VotingResult, error) {
		return l.VotingResult(ctx, votingHash)
	})
}

// GetUserVotes lists votes cast by voter, the composing wallet when empty.
func (p *VotingProcessor) GetUserVotes(ctx context.Context, voter string) ([]ledger.Vote, error) {
	return query(ctx, p.c, "get_user_votes", func(ctx context.Context, l ledger.Ledger) ([]ledger.Vote, error) {
		return l.Votes(ctx, p.c.owner(voter))
	})
}
