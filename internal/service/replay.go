package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opinionmkt/opiniond/internal/domain"
	"github.com/opinionmkt/opiniond/internal/engine"
)

// replayBatchSize bounds how many journal entries one page pulls.
const replayBatchSize = 1000

// Replayer rebuilds engine state from the journal. Because the engine is a
// pure function of its call order, replaying every entry in sequence
// reproduces the exact pre-shutdown state.
type Replayer struct {
	journal domain.JournalStore
	logger  *slog.Logger
}

// NewReplayer creates a Replayer over the given journal store.
func NewReplayer(journal domain.JournalStore, logger *slog.Logger) *Replayer {
	return &Replayer{journal: journal, logger: logger}
}

// Rebuild constructs a fresh engine and replays the full journal into it.
// It fails if any entry is rejected or the final sequence number does not
// match the journal head, either of which means the journal and the code
// disagree.
func (r *Replayer) Rebuild(ctx context.Context, params engine.Params, treasury, admin common.Address) (*engine.Engine, error) {
	eng, err := engine.New(params, treasury, admin)
	if err != nil {
		return nil, fmt.Errorf("replay: new engine: %w", err)
	}

	last, err := r.journal.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay: last seq: %w", err)
	}

	var applied uint64
	from := uint64(1)
	for {
		entries, err := r.journal.ListFrom(ctx, from, replayBatchSize)
		if err != nil {
			return nil, fmt.Errorf("replay: list from %d: %w", from, err)
		}
		if len(entries) == 0 {
			break
		}
		for _, entry := range entries {
			if err := applyEntry(eng, entry); err != nil {
				return nil, fmt.Errorf("replay: entry seq=%d op=%s: %w", entry.Seq, entry.Op, err)
			}
			applied++
		}
		from = entries[len(entries)-1].Seq + 1
	}

	if eng.Seq() != last {
		return nil, fmt.Errorf("replay: engine seq %d does not match journal head %d", eng.Seq(), last)
	}

	r.logger.InfoContext(ctx, "replay: rebuilt engine state",
		slog.Uint64("entries", applied),
		slog.Uint64("seq", eng.Seq()),
	)
	return eng, nil
}

// applyEntry re-executes one journaled transition against the engine.
func applyEntry(eng *engine.Engine, entry domain.JournalEntry) error {
	c := engine.Call{
		Caller:    entry.Caller,
		Allowance: entry.Allowance,
		Block:     entry.Block,
		Time:      entry.CreatedAt,
	}

	switch entry.Op {
	case domain.OpCreateOpinion:
		var args engine.CreateOpinionArgs
		if err := json.Unmarshal(entry.Args, &args); err != nil {
			return err
		}
		_, _, err := eng.CreateOpinion(c, args)
		return err
	case domain.OpSubmitAnswer:
		var args engine.SubmitAnswerArgs
		if err := json.Unmarshal(entry.Args, &args); err != nil {
			return err
		}
		_, _, err := eng.SubmitAnswer(c, args)
		return err
	case domain.OpListQuestionForSale:
		var args engine.ListForSaleArgs
		if err := json.Unmarshal(entry.Args, &args); err != nil {
			return err
		}
		_, _, err := eng.ListQuestionForSale(c, args)
		return err
	case domain.OpBuyQuestion:
		var args engine.BuyQuestionArgs
		if err := json.Unmarshal(entry.Args, &args); err != nil {
			return err
		}
		_, _, err := eng.BuyQuestion(c, args)
		return err
	case domain.OpModerateAnswer:
		var args engine.ModerateAnswerArgs
		if err := json.Unmarshal(entry.Args, &args); err != nil {
			return err
		}
		_, _, err := eng.ModerateAnswer(c, args)
		return err
	case domain.OpSetActive:
		var args engine.SetActiveArgs
		if err := json.Unmarshal(entry.Args, &args); err != nil {
			return err
		}
		_, _, err := eng.SetActive(c, args)
		return err
	case domain.OpCreatePool:
		var args engine.CreatePoolArgs
		if err := json.Unmarshal(entry.Args, &args); err != nil {
			return err
		}
		_, _, err := eng.CreatePool(c, args)
		return err
	case domain.OpContributeToPool:
		var args engine.ContributeArgs
		if err := json.Unmarshal(entry.Args, &args); err != nil {
			return err
		}
		_, _, err := eng.ContributeToPool(c, args)
		return err
	case domain.OpWithdrawExpiredPool:
		var args engine.PoolIDArgs
		if err := json.Unmarshal(entry.Args, &args); err != nil {
			return err
		}
		_, _, err := eng.WithdrawFromExpiredPool(c, args)
		return err
	case domain.OpEarlyWithdraw:
		var args engine.PoolIDArgs
		if err := json.Unmarshal(entry.Args, &args); err != nil {
			return err
		}
		_, _, err := eng.EarlyWithdraw(c, args)
		return err
	case domain.OpClaimFees:
		_, _, err := eng.ClaimFees(c)
		return err
	case domain.OpWithdrawPlatform:
		var args withdrawPlatformArgs
		if err := json.Unmarshal(entry.Args, &args); err != nil {
			return err
		}
		_, err := eng.WithdrawPlatformFees(c, args.To)
		return err
	case domain.OpPause:
		_, err := eng.Pause(c)
		return err
	case domain.OpUnpause:
		_, err := eng.Unpause(c)
		return err
	case domain.OpGrantRole:
		var args roleArgs
		if err := json.Unmarshal(entry.Args, &args); err != nil {
			return err
		}
		return eng.GrantRole(c, args.Role, args.Account)
	case domain.OpRevokeRole:
		var args roleArgs
		if err := json.Unmarshal(entry.Args, &args); err != nil {
			return err
		}
		return eng.RevokeRole(c, args.Role, args.Account)
	case domain.OpSetParams:
		var params engine.Params
		if err := json.Unmarshal(entry.Args, &params); err != nil {
			return err
		}
		return eng.SetParams(c, params)
	default:
		return fmt.Errorf("unknown op %q", entry.Op)
	}
}
