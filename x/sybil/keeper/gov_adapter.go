package keeper

import (
	"context"
	"sort"
	"strconv"
	"sync"

	sdkmath "cosmossdk.io/math"
	govv1 "github.com/cosmos/cosmos-sdk/x/gov/types/v1"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// VoteChoiceFromGov collapses a weighted gov vote onto a single choice: the
// option carrying the largest weight. Ties and empty ballots abstain.
func VoteChoiceFromGov(options []*govv1.WeightedVoteOption) types.VoteChoice {
	best := types.VoteAbstain
	bestWeight := sdkmath.LegacyZeroDec()
	tie := false
	for _, opt := range options {
		if opt == nil {
			continue
		}
		weight, err := sdkmath.LegacyNewDecFromStr(opt.Weight)
		if err != nil || !weight.IsPositive() {
			continue
		}
		choice := choiceFromOption(opt.Option)
		switch {
		case weight.GT(bestWeight):
			best, bestWeight, tie = choice, weight, false
		case weight.Equal(bestWeight) && choice != best:
			tie = true
		}
	}
	if tie {
		return types.VoteAbstain
	}
	return best
}

func choiceFromOption(opt govv1.VoteOption) types.VoteChoice {
	switch opt {
	case govv1.OptionYes:
		return types.VoteApprove
	case govv1.OptionNo, govv1.OptionNoWithVeto:
		return types.VoteReject
	default:
		return types.VoteAbstain
	}
}

// GovVoteLedger is an in-memory GovernanceSource fed from gov votes as they
// are observed. Safe for concurrent use.
type GovVoteLedger struct {
	mu    sync.RWMutex
	votes map[string]map[string]types.GovernanceVote // proposal -> voter -> vote
}

// NewGovVoteLedger returns an empty ledger.
func NewGovVoteLedger() *GovVoteLedger {
	return &GovVoteLedger{votes: make(map[string]map[string]types.GovernanceVote)}
}

// RecordGovVote records a gov v1 vote observed at unix time. A later vote by
// the same voter on the same proposal replaces the earlier one.
func (l *GovVoteLedger) RecordGovVote(vote govv1.Vote, unix int64) {
	l.Record(strconv.FormatUint(vote.ProposalId, 10), types.GovernanceVote{
		ValidatorID: vote.Voter,
		Choice:      VoteChoiceFromGov(vote.Options),
		Timestamp:   unix,
	})
}

// Record stores one vote under proposalID.
func (l *GovVoteLedger) Record(proposalID string, vote types.GovernanceVote) {
	if proposalID == "" || vote.ValidatorID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ballots, ok := l.votes[proposalID]
	if !ok {
		ballots = make(map[string]types.GovernanceVote)
		l.votes[proposalID] = ballots
	}
	if prev, ok := ballots[vote.ValidatorID]; ok && prev.Timestamp > vote.Timestamp {
		return
	}
	ballots[vote.ValidatorID] = vote
}

// VotesByProposal implements GovernanceSource.
func (l *GovVoteLedger) VotesByProposal(ctx context.Context) (map[string][]types.GovernanceVote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string][]types.GovernanceVote, len(l.votes))
	for proposalID, ballots := range l.votes {
		list := make([]types.GovernanceVote, 0, len(ballots))
		for _, v := range ballots {
			list = append(list, v)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].ValidatorID < list[j].ValidatorID })
		out[proposalID] = list
	}
	return out, nil
}
