// Package engine implements the opinion market state engine: opinion
// lifecycle, price evolution, fee splitting, and pool-based crowdfunding.
//
// The engine is a pure, deterministic state machine. It performs no I/O and
// depends only on the total order of calls it is fed: replaying the same
// call sequence always reproduces the same state. Callers (the service
// layer) serialize writes, journal accepted calls, and persist the resulting
// snapshots; the engine itself never blocks.
package engine

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// Call carries the host-ledger metadata for one transition: who is calling,
// how much payment they pre-authorized, the discrete throttling window, and
// the host timestamp. Block and Time must be non-decreasing across calls.
type Call struct {
	Caller    common.Address
	Allowance uint64
	Block     uint64
	Time      time.Time
}

// tradeMark records one accepted trade for the competition window.
type tradeMark struct {
	trader common.Address
	at     time.Time
}

// tradeWindow tracks recent traders and the per-block trade count for one
// opinion.
type tradeWindow struct {
	recent     []tradeMark
	block      uint64
	blockCount uint32
}

// poolState is a pool snapshot plus its contributor ledger. The order slice
// keeps contributor iteration deterministic.
type poolState struct {
	pool          domain.Pool
	contributions map[common.Address]uint64
	refunded      map[common.Address]bool
	order         []common.Address
	refundedTotal uint64
}

// Engine owns all mutable market state. It is not safe for concurrent use;
// the service layer holds a single writer lock around every call.
type Engine struct {
	params   Params
	paused   bool
	treasury common.Address
	roles    map[Role]map[common.Address]bool

	nextOpinionID uint64
	opinions      map[uint64]*domain.Opinion
	history       map[uint64][]domain.AnswerHistoryEntry
	windows       map[uint64]*tradeWindow

	nextPoolID uint64
	pools      map[uint64]*poolState

	fees feeLedger

	nonce    uint64 // bumped per accepted trade, feeds price entropy
	seq      uint64 // bumped per accepted call, orders the journal
	lastTime time.Time
}

// New creates an engine with the given parameters, treasury destination, and
// initial admin. The admin bootstraps all other role grants.
func New(params Params, treasury, admin common.Address) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		params:        params,
		treasury:      treasury,
		roles:         make(map[Role]map[common.Address]bool),
		nextOpinionID: 1,
		opinions:      make(map[uint64]*domain.Opinion),
		history:       make(map[uint64][]domain.AnswerHistoryEntry),
		windows:       make(map[uint64]*tradeWindow),
		nextPoolID:    1,
		pools:         make(map[uint64]*poolState),
		fees:          newFeeLedger(),
	}
	e.grant(RoleAdmin, admin)
	return e, nil
}

// clock clamps a call timestamp so engine time never runs backwards even if
// the host feeds a stale timestamp.
func (e *Engine) clock(c Call) time.Time {
	if c.Time.After(e.lastTime) {
		e.lastTime = c.Time
	}
	return e.lastTime
}

// commit assigns the next sequence number to an accepted call.
func (e *Engine) commit() uint64 {
	e.seq++
	return e.seq
}

// Seq returns the sequence number of the last accepted call.
func (e *Engine) Seq() uint64 { return e.seq }

// Paused reports whether trading calls are currently rejected.
func (e *Engine) Paused() bool { return e.paused }

// Pause stops all trading calls. Claims and admin recovery operations keep
// working while paused.
func (e *Engine) Pause(c Call) (domain.Event, error) {
	if err := e.requireRole(c.Caller, RoleAdmin); err != nil {
		return domain.Event{}, err
	}
	if e.paused {
		return domain.Event{}, domain.ErrPaused
	}
	e.paused = true
	now := e.clock(c)
	e.commit()
	return e.event(domain.EventEnginePaused, now, map[string]any{
		"by": c.Caller.Hex(),
	}), nil
}

// Unpause resumes trading.
func (e *Engine) Unpause(c Call) (domain.Event, error) {
	if err := e.requireRole(c.Caller, RoleAdmin); err != nil {
		return domain.Event{}, err
	}
	if !e.paused {
		return domain.Event{}, domain.ErrNotPaused
	}
	e.paused = false
	now := e.clock(c)
	e.commit()
	return e.event(domain.EventEngineUnpaused, now, map[string]any{
		"by": c.Caller.Hex(),
	}), nil
}

// SetParams replaces the tunable parameter set. Admin only; the new set must
// validate. Live opinions keep their prices; only future transitions see the
// new values.
func (e *Engine) SetParams(c Call, p Params) error {
	if err := e.requireRole(c.Caller, RoleAdmin); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	e.params = p
	e.commit()
	return nil
}

// Params returns a copy of the current parameter set.
func (e *Engine) Params() Params { return e.params }

// AvailableCategories returns the category catalog.
func (e *Engine) AvailableCategories() []string {
	out := make([]string, len(e.params.Categories))
	copy(out, e.params.Categories)
	return out
}

// NextOpinionID returns the id the next created opinion will receive.
func (e *Engine) NextOpinionID() uint64 { return e.nextOpinionID }

// GetOpinion returns a copy of an opinion record.
func (e *Engine) GetOpinion(id uint64) (domain.Opinion, error) {
	o, ok := e.opinions[id]
	if !ok {
		return domain.Opinion{}, domain.ErrOpinionNotFound
	}
	return *o, nil
}

// AnswerHistory returns a copy of an opinion's append-only answer log.
func (e *Engine) AnswerHistory(id uint64) ([]domain.AnswerHistoryEntry, error) {
	if _, ok := e.opinions[id]; !ok {
		return nil, domain.ErrOpinionNotFound
	}
	entries := e.history[id]
	out := make([]domain.AnswerHistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// NextPoolID returns the id the next created pool will receive.
func (e *Engine) NextPoolID() uint64 { return e.nextPoolID }

// GetPool returns a copy of a pool record.
func (e *Engine) GetPool(id uint64) (domain.Pool, error) {
	ps, ok := e.pools[id]
	if !ok {
		return domain.Pool{}, domain.ErrInvalidPoolID
	}
	return ps.pool, nil
}

// PoolContributors returns the contribution ledger of a pool in first-seen
// order. Zeroed (refunded) entries are included so pro-rata consumers can
// see the full picture.
func (e *Engine) PoolContributors(id uint64) ([]domain.PoolContribution, error) {
	ps, ok := e.pools[id]
	if !ok {
		return nil, domain.ErrInvalidPoolID
	}
	out := make([]domain.PoolContribution, 0, len(ps.order))
	for _, addr := range ps.order {
		out = append(out, domain.PoolContribution{
			PoolID:      id,
			Contributor: addr,
			Amount:      ps.contributions[addr],
		})
	}
	return out, nil
}

// AccumulatedFees returns the claimable balance for an account.
func (e *Engine) AccumulatedFees(account common.Address) uint64 {
	return e.fees.balances[account]
}

// FeeTotals returns the ledger's audit counters.
func (e *Engine) FeeTotals() domain.FeeTotals {
	return domain.FeeTotals{
		AccumulatedLifetime: e.fees.accumulatedLifetime,
		ClaimedLifetime:     e.fees.claimedLifetime,
		TreasuryDirect:      e.fees.treasuryDirect,
		Backing:             e.fees.backing,
	}
}

// Treasury returns the treasury destination address.
func (e *Engine) Treasury() common.Address { return e.treasury }
