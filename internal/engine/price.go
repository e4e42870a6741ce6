package engine

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// entropy derives a replayable pseudo-random value from a trade nonce and
// opinion id. Keccak over state the host ledger already exposes keeps every
// price step reproducible from the journal alone.
func entropy(nonce, opinionID uint64) uint64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], nonce)
	binary.BigEndian.PutUint64(buf[8:], opinionID)
	sum := ethcrypto.Keccak256(buf[:])
	return binary.BigEndian.Uint64(sum[:8])
}

// window returns (creating if needed) the trade window for an opinion.
func (e *Engine) window(opinionID uint64) *tradeWindow {
	w, ok := e.windows[opinionID]
	if !ok {
		w = &tradeWindow{}
		e.windows[opinionID] = w
	}
	return w
}

// checkThrottle rejects the (N+1)-th trade on one opinion within a single
// block window, where N = MaxTradesPerBlock.
func (e *Engine) checkThrottle(opinionID uint64, block uint64) error {
	w := e.window(opinionID)
	if w.block != block {
		return nil
	}
	if w.blockCount >= e.params.MaxTradesPerBlock {
		return &domain.MaxTradesExceededError{
			Current: w.blockCount,
			Max:     e.params.MaxTradesPerBlock,
		}
	}
	return nil
}

// recordTrade notes an accepted trade in the competition window and the
// per-block counter, pruning marks older than the rolling window. Only
// accepted trades reach here; a refused call must leave the window alone or
// replay diverges.
func (e *Engine) recordTrade(opinionID uint64, trader common.Address, block uint64, now time.Time) {
	w := e.window(opinionID)
	if w.block != block {
		w.block = block
		w.blockCount = 0
	}
	w.blockCount++

	cutoff := now.Add(-e.params.CompetitionWindow)
	kept := w.recent[:0]
	for _, m := range w.recent {
		if m.at.After(cutoff) {
			kept = append(kept, m)
		}
	}
	w.recent = append(kept, tradeMark{trader: trader, at: now})
}

// competitive reports whether two or more distinct accounts — counting the
// pending trader — traded the opinion within the rolling window. Reading the
// pending trade from its arguments instead of the window lets price
// derivation run before anything is recorded.
func (e *Engine) competitive(opinionID uint64, pending common.Address, now time.Time) bool {
	w := e.window(opinionID)
	cutoff := now.Add(-e.params.CompetitionWindow)
	seen := map[common.Address]bool{pending: true}
	for _, m := range w.recent {
		if !m.at.After(cutoff) {
			continue
		}
		seen[m.trader] = true
		if len(seen) >= 2 {
			return true
		}
	}
	return false
}

// nextPrice computes the price the next trader must pay for the trade the
// pending trader is about to land. It reads engine state but mutates
// nothing: the caller records the trade and bumps the nonce only once the
// whole transition is accepted. Competitive regime: a deterministic step in
// the configured 8-12% band. Single-trader regime: a volatility-tolerant
// swing within ±AbsoluteMaxPriceChangePct, decreases allowed, floored at
// MinimumPrice. Overflow refuses the transition.
func (e *Engine) nextPrice(opinionID uint64, pending common.Address, last uint64, now time.Time) (uint64, error) {
	ent := entropy(e.nonce+1, opinionID)

	if e.competitive(opinionID, pending, now) {
		span := e.params.CompetitiveMaxBandBps - e.params.CompetitiveMinBandBps + 1
		bps := e.params.CompetitiveMinBandBps + ent%span
		step, err := bpsOf(last, bps)
		if err != nil {
			return 0, err
		}
		next, err := addChecked(last, step)
		if err != nil {
			return 0, &domain.PriceChangeExceedsLimitError{
				IncreasePct: bps / 100,
				LimitPct:    e.params.AbsoluteMaxPriceChangePct,
			}
		}
		return next, nil
	}

	// Single-trader regime: swing in [-max, +max] percent.
	maxPct := e.params.AbsoluteMaxPriceChangePct
	swing := int64(ent%(2*maxPct+1)) - int64(maxPct)
	if swing >= 0 {
		step, err := mulDivChecked(last, uint64(swing), 100)
		if err != nil {
			return 0, err
		}
		next, err := addChecked(last, step)
		if err != nil {
			return 0, &domain.PriceChangeExceedsLimitError{
				IncreasePct: uint64(swing),
				LimitPct:    maxPct,
			}
		}
		return next, nil
	}
	step, err := mulDivChecked(last, uint64(-swing), 100)
	if err != nil {
		return 0, err
	}
	next := last - step
	if next < e.params.MinimumPrice {
		next = e.params.MinimumPrice
	}
	return next, nil
}
