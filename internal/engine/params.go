package engine

import (
	"fmt"
	"time"
)

// Params holds every tunable constant of the state engine. All monetary
// values are 6-decimal fixed-point integers; all percentages are basis
// points unless named otherwise.
type Params struct {
	// Fee split applied to every answer trade. The three shares plus the
	// integer-division remainder (always folded into the owner share) sum to
	// exactly the paid amount.
	PlatformFeeBps uint64
	CreatorFeeBps  uint64

	// Opinion creation.
	PublicCreationEnabled bool
	CreationFeeBps        uint64
	MinCreationFee        uint64

	// Price evolution. MinimumPrice floors every quote: initial prices and
	// single-trader decreases never go below it, which keeps a competitive
	// band step from rounding to zero.
	MinimumPrice              uint64
	AbsoluteMaxPriceChangePct uint64 // single-trader regime swing bound, percent
	CompetitiveMinBandBps     uint64 // competitive regime lower bound
	CompetitiveMaxBandBps     uint64 // competitive regime upper bound
	CompetitionWindow         time.Duration
	MaxTradesPerBlock         uint32

	// Pools.
	PoolCreationFee         uint64
	MinPoolDuration         time.Duration
	MaxPoolDuration         time.Duration
	MinimumContribution     uint64
	CompletionToleranceBps  uint64
	EarlyWithdrawPenaltyBps uint64

	// Text limits.
	MaxQuestionLen    int
	MaxAnswerLen      int
	MaxDescriptionLen int
	MaxLinkLen        int
	MaxIPFSHashLen    int
	MaxPoolNameLen    int
	MaxCategoryLen    int

	Categories []string
}

// DefaultParams returns the production defaults. The competitive band and
// completion tolerance are operator-tunable; these are the shipped values.
func DefaultParams() Params {
	return Params{
		PlatformFeeBps: 200,
		CreatorFeeBps:  300,

		PublicCreationEnabled: true,
		CreationFeeBps:        500,
		MinCreationFee:        1_000_000, // 1.0 in 6-decimal fixed point

		MinimumPrice:              1_000, // 0.001 in 6-decimal fixed point
		AbsoluteMaxPriceChangePct: 40,
		CompetitiveMinBandBps:     800,
		CompetitiveMaxBandBps:     1200,
		CompetitionWindow:         24 * time.Hour,
		MaxTradesPerBlock:         3,

		PoolCreationFee:         5_000_000,
		MinPoolDuration:         24 * time.Hour,
		MaxPoolDuration:         30 * 24 * time.Hour,
		MinimumContribution:     1_000_000,
		CompletionToleranceBps:  100,
		EarlyWithdrawPenaltyBps: 2000,

		MaxQuestionLen:    120,
		MaxAnswerLen:      120,
		MaxDescriptionLen: 280,
		MaxLinkLen:        256,
		MaxIPFSHashLen:    68,
		MaxPoolNameLen:    64,
		MaxCategoryLen:    24,

		Categories: []string{
			"politics", "crypto", "science", "sports",
			"culture", "technology", "economy", "other",
		},
	}
}

// Validate rejects parameter sets that would break engine invariants.
func (p Params) Validate() error {
	if p.PlatformFeeBps+p.CreatorFeeBps >= 10_000 {
		return fmt.Errorf("engine: fee splits %d+%d bps leave no owner share", p.PlatformFeeBps, p.CreatorFeeBps)
	}
	if p.CompetitiveMinBandBps == 0 || p.CompetitiveMaxBandBps < p.CompetitiveMinBandBps {
		return fmt.Errorf("engine: invalid competitive band [%d, %d] bps", p.CompetitiveMinBandBps, p.CompetitiveMaxBandBps)
	}
	if p.AbsoluteMaxPriceChangePct == 0 || p.AbsoluteMaxPriceChangePct >= 100 {
		return fmt.Errorf("engine: absolute max price change %d%% out of range", p.AbsoluteMaxPriceChangePct)
	}
	if p.CompetitiveMaxBandBps > p.AbsoluteMaxPriceChangePct*100 {
		return fmt.Errorf("engine: competitive band %d bps exceeds absolute change limit %d%%", p.CompetitiveMaxBandBps, p.AbsoluteMaxPriceChangePct)
	}
	// A competitive step at the floor must round to at least one unit, or
	// the band could not be honored at the minimum price.
	if p.MinimumPrice == 0 || p.MinimumPrice*p.CompetitiveMinBandBps < 10_000 {
		return fmt.Errorf("engine: minimum price %d too low for a %d bps competitive step", p.MinimumPrice, p.CompetitiveMinBandBps)
	}
	if p.MaxTradesPerBlock == 0 {
		return fmt.Errorf("engine: max trades per block must be >= 1")
	}
	if p.MinPoolDuration <= 0 || p.MaxPoolDuration < p.MinPoolDuration {
		return fmt.Errorf("engine: invalid pool duration range [%s, %s]", p.MinPoolDuration, p.MaxPoolDuration)
	}
	if p.MinimumContribution == 0 {
		return fmt.Errorf("engine: minimum contribution must be positive")
	}
	if p.CompletionToleranceBps >= 10_000 {
		return fmt.Errorf("engine: completion tolerance %d bps out of range", p.CompletionToleranceBps)
	}
	if p.EarlyWithdrawPenaltyBps >= 10_000 {
		return fmt.Errorf("engine: early withdraw penalty %d bps out of range", p.EarlyWithdrawPenaltyBps)
	}
	if p.CompetitionWindow <= 0 {
		return fmt.Errorf("engine: competition window must be positive")
	}
	return nil
}
