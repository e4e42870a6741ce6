package engine

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// CreatePoolArgs are the journaled arguments of OpCreatePool.
type CreatePoolArgs struct {
	OpinionID           uint64    `json:"opinion_id"`
	ProposedAnswer      string    `json:"proposed_answer"`
	Name                string    `json:"name"`
	IPFSHash            string    `json:"ipfs_hash"`
	Deadline            time.Time `json:"deadline"`
	InitialContribution uint64    `json:"initial_contribution"`
}

// ContributeArgs are the journaled arguments of OpContributeToPool.
type ContributeArgs struct {
	PoolID uint64 `json:"pool_id"`
	Amount uint64 `json:"amount"`
}

// PoolIDArgs are the journaled arguments of the pool withdraw operations.
type PoolIDArgs struct {
	PoolID uint64 `json:"pool_id"`
}

// PoolAddress derives the deterministic account under which a pool holds the
// answer position it wins. Fee shares from later displacements accrue to
// this address; contributors split them pro rata off the contribution
// ledger.
func PoolAddress(poolID uint64) common.Address {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], poolID)
	sum := ethcrypto.Keccak256([]byte("opinion-pool"), buf[:])
	return common.BytesToAddress(sum[12:])
}

// CreatePool opens a crowdfunding campaign for a proposed answer. The flat
// creation fee goes straight to treasury; the initial contribution is
// pool-bound capital. The target price snapshots the opinion's current
// price and is refreshed at every later contribution.
func (e *Engine) CreatePool(c Call, args CreatePoolArgs) (domain.Pool, []domain.Event, error) {
	if e.paused {
		return domain.Pool{}, nil, domain.ErrPaused
	}
	o, ok := e.opinions[args.OpinionID]
	if !ok {
		return domain.Pool{}, nil, domain.ErrOpinionNotFound
	}
	if !o.IsActive {
		return domain.Pool{}, nil, domain.ErrOpinionNotActive
	}
	if strings.TrimSpace(args.Name) == "" || len(args.Name) > e.params.MaxPoolNameLen {
		return domain.Pool{}, nil, domain.ErrPoolNameInvalid
	}
	if strings.TrimSpace(args.ProposedAnswer) == "" {
		return domain.Pool{}, nil, domain.ErrEmptyString
	}
	if err := e.checkText("answer", args.ProposedAnswer, e.params.MaxAnswerLen); err != nil {
		return domain.Pool{}, nil, err
	}
	if err := e.checkText("ipfs_hash", args.IPFSHash, e.params.MaxIPFSHashLen); err != nil {
		return domain.Pool{}, nil, err
	}
	if args.ProposedAnswer == o.CurrentAnswer {
		return domain.Pool{}, nil, domain.ErrProposedAnswerMatchesCurrent
	}

	now := e.clock(c)
	life := args.Deadline.Sub(now)
	if life < e.params.MinPoolDuration {
		return domain.Pool{}, nil, domain.ErrDeadlineTooShort
	}
	if life > e.params.MaxPoolDuration {
		return domain.Pool{}, nil, domain.ErrDeadlineTooLong
	}
	if args.InitialContribution < e.params.MinimumContribution {
		return domain.Pool{}, nil, domain.ErrContributionTooLow
	}

	required, err := addChecked(e.params.PoolCreationFee, args.InitialContribution)
	if err != nil {
		return domain.Pool{}, nil, err
	}
	if c.Allowance < required {
		return domain.Pool{}, nil, &domain.InsufficientAllowanceError{Required: required, Provided: c.Allowance}
	}
	// Reject an overshooting seed before anything is committed: a rejected
	// create must leave no pool record and charge no fee.
	tol, err := bpsOf(o.NextPrice, e.params.CompletionToleranceBps)
	if err != nil {
		return domain.Pool{}, nil, err
	}
	if args.InitialContribution > o.NextPrice && args.InitialContribution-o.NextPrice > tol {
		return domain.Pool{}, nil, domain.ErrPoolAlreadyFullyFunded
	}

	// Fee first: settle charges it straight to treasury, and a refused seed
	// contribution below hands it back before returning, so a rejected
	// create leaves no trace of the charge.
	if err := e.fees.settle(e.params.PoolCreationFee, e.params.PoolCreationFee); err != nil {
		return domain.Pool{}, nil, err
	}

	ps := &poolState{
		pool: domain.Pool{
			ID:             e.nextPoolID,
			OpinionID:      o.ID,
			ProposedAnswer: args.ProposedAnswer,
			Name:           args.Name,
			IPFSHash:       args.IPFSHash,
			Creator:        c.Caller,
			TargetPrice:    o.NextPrice,
			Deadline:       args.Deadline,
			Status:         domain.PoolStatusActive,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		contributions: make(map[common.Address]uint64),
		refunded:      make(map[common.Address]bool),
	}
	// The seed contribution runs against the staged record before anything
	// is registered. If it is refused the pool never existed: the fee goes
	// back and no sequence number was spent.
	more, err := e.contribute(c, ps, args.InitialContribution, now)
	if err != nil {
		e.fees.treasuryDirect -= e.params.PoolCreationFee
		return domain.Pool{}, nil, err
	}
	e.nextPoolID++
	e.pools[ps.pool.ID] = ps

	e.commit()
	events := []domain.Event{e.event(domain.EventPoolCreated, now, map[string]any{
		"pool_id":      ps.pool.ID,
		"opinion_id":   o.ID,
		"creator":      c.Caller.Hex(),
		"target_price": ps.pool.TargetPrice,
		"deadline":     args.Deadline,
	})}
	return ps.pool, append(events, more...), nil
}

// ContributeToPool adds funds to an active pool. When the total reaches the
// target price within the completion tolerance the pool executes: the
// proposed answer is submitted with the pool's full capital as payment and
// the pool address recorded as answer owner.
func (e *Engine) ContributeToPool(c Call, args ContributeArgs) (domain.Pool, []domain.Event, error) {
	if e.paused {
		return domain.Pool{}, nil, domain.ErrPaused
	}
	ps, ok := e.pools[args.PoolID]
	if !ok {
		return domain.Pool{}, nil, domain.ErrInvalidPoolID
	}
	now := e.clock(c)
	switch ps.pool.Status {
	case domain.PoolStatusExecuted:
		return domain.Pool{}, nil, domain.ErrPoolAlreadyExecuted
	case domain.PoolStatusExpired:
		return domain.Pool{}, nil, domain.ErrPoolNotActive
	}
	if !now.Before(ps.pool.Deadline) {
		// Rejected calls must not mutate state; the expiry transition runs
		// inside the first successful withdrawal instead.
		return domain.Pool{}, nil, domain.ErrPoolDeadlinePassed
	}
	if c.Allowance < args.Amount {
		return domain.Pool{}, nil, &domain.InsufficientAllowanceError{Required: args.Amount, Provided: c.Allowance}
	}
	events, err := e.contribute(c, ps, args.Amount, now)
	if err != nil {
		return domain.Pool{}, nil, err
	}
	return ps.pool, events, nil
}

// contribute applies one accepted contribution and runs the completion
// check. Caller has already validated pool status, deadline, and allowance.
func (e *Engine) contribute(c Call, ps *poolState, amount uint64, now time.Time) ([]domain.Event, error) {
	o, ok := e.opinions[ps.pool.OpinionID]
	if !ok {
		return nil, domain.ErrOpinionNotFound
	}
	if !o.IsActive {
		return nil, domain.ErrOpinionNotActive
	}

	// Completion-time snapshot: the target tracks the opinion's live price
	// so a pool never executes against a stale quote.
	target := o.NextPrice
	tol, err := bpsOf(target, e.params.CompletionToleranceBps)
	if err != nil {
		return nil, err
	}
	if ps.pool.TotalAmount >= target {
		return nil, domain.ErrPoolAlreadyFullyFunded
	}
	remaining := target - ps.pool.TotalAmount
	if amount < e.params.MinimumContribution && amount < remaining {
		return nil, domain.ErrContributionTooLow
	}
	if amount > remaining && amount-remaining > tol {
		return nil, domain.ErrPoolAlreadyFullyFunded
	}
	total, err := addChecked(ps.pool.TotalAmount, amount)
	if err != nil {
		return nil, err
	}

	// Tolerance-band completion: micro-shortfall within the band still
	// completes, so integer dust can never strand a pool at 99.9%. The
	// trade runs before the contribution is booked; if it is refused
	// (throttle, overflow) the whole call rejects and neither the pool nor
	// the ledger has moved.
	var execEvents []domain.Event
	if total+tol >= target {
		execEvents, err = e.executePool(c, ps, o, total, now)
		if err != nil {
			return nil, err
		}
	} else if err := e.fees.deposit(amount); err != nil {
		return nil, err
	}

	if _, seen := ps.contributions[c.Caller]; !seen {
		ps.order = append(ps.order, c.Caller)
	}
	ps.contributions[c.Caller] += amount
	ps.pool.TotalAmount = total
	ps.pool.TargetPrice = target
	ps.pool.UpdatedAt = now

	e.commit()
	events := []domain.Event{e.event(domain.EventPoolContributed, now, map[string]any{
		"pool_id":     ps.pool.ID,
		"contributor": c.Caller.Hex(),
		"amount":      amount,
		"total":       total,
		"target":      target,
	})}
	return append(events, execEvents...), nil
}

// executePool submits the proposed answer with the pool as payer and owner,
// spending the pool's full capital including the contribution that completed
// it. Failure anywhere rejects the whole contribution call; no partial
// execution is observable.
func (e *Engine) executePool(c Call, ps *poolState, o *domain.Opinion, total uint64, now time.Time) ([]domain.Event, error) {
	payer := PoolAddress(ps.pool.ID)

	// The earlier contributions entered backing one by one; move them out
	// so the trade settlement can deposit the full payment in one piece.
	held := ps.pool.TotalAmount
	if err := e.fees.payout(held); err != nil {
		return nil, err
	}

	_, events, err := e.applyAnswer(c, o, SubmitAnswerArgs{
		OpinionID: o.ID,
		Answer:    ps.pool.ProposedAnswer,
	}, payer, total)
	if err != nil {
		// Restores the value backing held a moment ago, so it cannot
		// overflow.
		_ = e.fees.deposit(held)
		return nil, err
	}

	ps.pool.Status = domain.PoolStatusExecuted
	events = append(events, e.event(domain.EventPoolExecuted, now, map[string]any{
		"pool_id":    ps.pool.ID,
		"opinion_id": o.ID,
		"paid":       total,
		"owner":      payer.Hex(),
	}))
	return events, nil
}

// expire marks a pool Expired after its deadline. Called lazily from the
// first post-deadline touch.
func (e *Engine) expire(ps *poolState, now time.Time) domain.Event {
	ps.pool.Status = domain.PoolStatusExpired
	ps.pool.UpdatedAt = now
	return e.event(domain.EventPoolExpired, now, map[string]any{
		"pool_id": ps.pool.ID,
		"total":   ps.pool.TotalAmount,
	})
}

// WithdrawFromExpiredPool refunds the caller's full tracked contribution
// from an expired pool. Withdrawing twice fails; the sum of all refunds
// equals the pool's total at expiry.
func (e *Engine) WithdrawFromExpiredPool(c Call, args PoolIDArgs) (uint64, []domain.Event, error) {
	ps, ok := e.pools[args.PoolID]
	if !ok {
		return 0, nil, domain.ErrInvalidPoolID
	}
	now := e.clock(c)
	switch ps.pool.Status {
	case domain.PoolStatusExecuted:
		return 0, nil, domain.ErrPoolAlreadyExecuted
	case domain.PoolStatusActive:
		if now.Before(ps.pool.Deadline) {
			return 0, nil, domain.ErrPoolNotExpired
		}
	}

	amount := ps.contributions[c.Caller]
	if amount == 0 {
		if ps.refunded[c.Caller] {
			return 0, nil, domain.ErrAlreadyRefunded
		}
		return 0, nil, domain.ErrNoContributionFound
	}
	if err := e.fees.payout(amount); err != nil {
		return 0, nil, err
	}

	// The lazy expiry transition piggybacks on the first committing
	// withdrawal; a rejected call above must not flip the status.
	var events []domain.Event
	if ps.pool.Status == domain.PoolStatusActive {
		events = append(events, e.expire(ps, now))
	}
	ps.contributions[c.Caller] = 0
	ps.refunded[c.Caller] = true
	ps.refundedTotal += amount

	e.commit()
	events = append(events, e.event(domain.EventPoolRefunded, now, map[string]any{
		"pool_id":     ps.pool.ID,
		"contributor": c.Caller.Hex(),
		"amount":      amount,
	}))
	return amount, events, nil
}

// EarlyWithdraw lets a contributor exit an active pool before its deadline
// at the cost of a fixed penalty retained as ledger-held platform share.
func (e *Engine) EarlyWithdraw(c Call, args PoolIDArgs) (uint64, []domain.Event, error) {
	if e.paused {
		return 0, nil, domain.ErrPaused
	}
	ps, ok := e.pools[args.PoolID]
	if !ok {
		return 0, nil, domain.ErrInvalidPoolID
	}
	now := e.clock(c)
	if ps.pool.Status != domain.PoolStatusActive {
		return 0, nil, domain.ErrPoolNotActive
	}
	if !now.Before(ps.pool.Deadline) {
		return 0, nil, domain.ErrPoolDeadlinePassed
	}

	amount := ps.contributions[c.Caller]
	if amount == 0 {
		return 0, nil, domain.ErrNoContributionFound
	}
	penalty, err := bpsOf(amount, e.params.EarlyWithdrawPenaltyBps)
	if err != nil {
		return 0, nil, err
	}
	refund := amount - penalty
	pending, err := addChecked(e.fees.platformPending, penalty)
	if err != nil {
		return 0, nil, err
	}

	if err := e.fees.payout(refund); err != nil {
		return 0, nil, err
	}
	e.fees.platformPending = pending

	ps.contributions[c.Caller] = 0
	ps.pool.TotalAmount -= amount
	ps.pool.UpdatedAt = now

	e.commit()
	events := []domain.Event{e.event(domain.EventPoolRefunded, now, map[string]any{
		"pool_id":     ps.pool.ID,
		"contributor": c.Caller.Hex(),
		"amount":      refund,
		"penalty":     penalty,
	})}
	return refund, events, nil
}

// PoolsByOpinion returns snapshots of every pool targeting an opinion in id
// order.
func (e *Engine) PoolsByOpinion(opinionID uint64) []domain.Pool {
	var out []domain.Pool
	for id := uint64(1); id < e.nextPoolID; id++ {
		ps, ok := e.pools[id]
		if ok && ps.pool.OpinionID == opinionID {
			out = append(out, ps.pool)
		}
	}
	return out
}
