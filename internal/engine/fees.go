package engine

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// feeLedger tracks claimable balances and the conservation counters. Every
// unit paid into the engine either sits in backing, was paid to treasury
// directly, or was claimed out; the fee tests assert this sum never drifts.
type feeLedger struct {
	balances map[common.Address]uint64
	order    []common.Address

	accumulatedLifetime uint64
	claimedLifetime     uint64
	treasuryDirect      uint64
	platformPending     uint64 // ledger-held platform share (withdraw penalties)
	backing             uint64 // funds the ledger currently holds
}

func newFeeLedger() feeLedger {
	return feeLedger{balances: make(map[common.Address]uint64)}
}

// deposit records an inbound payment into the ledger's backing.
func (l *feeLedger) deposit(amount uint64) error {
	sum, err := addChecked(l.backing, amount)
	if err != nil {
		return err
	}
	l.backing = sum
	return nil
}

// payout releases backing for an outbound transfer. The caller performs the
// actual transfer after the transition commits; a short ledger here is an
// accounting bug, never normal operation.
func (l *feeLedger) payout(amount uint64) error {
	if amount > l.backing {
		return domain.ErrInsufficientContractBalance
	}
	l.backing -= amount
	return nil
}

// credit is one claimable accrual inside a settlement.
type credit struct {
	account common.Address
	amount  uint64
}

// settle records one inbound payment as a unit: amount enters backing,
// toTreasury passes straight out, and each credit becomes claimable. Every
// addition is validated before the first counter moves, so a refused
// settlement leaves the ledger exactly as it was.
func (l *feeLedger) settle(amount, toTreasury uint64, credits ...credit) error {
	backing, err := addChecked(l.backing, amount)
	if err != nil {
		return err
	}
	if toTreasury > backing {
		return domain.ErrInsufficientContractBalance
	}
	direct, err := addChecked(l.treasuryDirect, toTreasury)
	if err != nil {
		return err
	}

	// Validate balance additions against a scratch view so one account
	// collecting several credits in the same settlement is summed, not
	// overwritten.
	life := l.accumulatedLifetime
	sums := make(map[common.Address]uint64, len(credits))
	for _, cr := range credits {
		if cr.amount == 0 {
			continue
		}
		base, staged := sums[cr.account]
		if !staged {
			base = l.balances[cr.account]
		}
		sum, err := addChecked(base, cr.amount)
		if err != nil {
			return err
		}
		if life, err = addChecked(life, cr.amount); err != nil {
			return err
		}
		sums[cr.account] = sum
	}

	l.backing = backing - toTreasury
	l.treasuryDirect = direct
	l.accumulatedLifetime = life
	for _, cr := range credits {
		if cr.amount == 0 {
			continue
		}
		if _, ok := l.balances[cr.account]; !ok {
			l.order = append(l.order, cr.account)
		}
		l.balances[cr.account] = sums[cr.account]
	}
	return nil
}

// tradeSplit is the fee breakdown of one paid trade.
type tradeSplit struct {
	platform uint64
	creator  uint64
	owner    uint64
}

// splitTrade divides a payment into platform/creator/owner shares. The
// integer-division remainder goes to the owner share, the largest of the
// three, so the parts always sum to exactly the payment.
func (e *Engine) splitTrade(paid uint64) (tradeSplit, error) {
	platform, err := bpsOf(paid, e.params.PlatformFeeBps)
	if err != nil {
		return tradeSplit{}, err
	}
	creator, err := bpsOf(paid, e.params.CreatorFeeBps)
	if err != nil {
		return tradeSplit{}, err
	}
	return tradeSplit{
		platform: platform,
		creator:  creator,
		owner:    paid - platform - creator,
	}, nil
}

// ClaimFees transfers the caller's full claimable balance out of the ledger
// and zeroes it. Claims are allowed even while the engine is paused.
func (e *Engine) ClaimFees(c Call) (uint64, domain.Event, error) {
	bal := e.fees.balances[c.Caller]
	if bal == 0 {
		return 0, domain.Event{}, domain.ErrNoFeesToClaim
	}
	claimed, err := addChecked(e.fees.claimedLifetime, bal)
	if err != nil {
		return 0, domain.Event{}, err
	}
	if err := e.fees.payout(bal); err != nil {
		return 0, domain.Event{}, err
	}
	e.fees.balances[c.Caller] = 0
	e.fees.claimedLifetime = claimed
	e.commit()
	now := e.clock(c)
	return bal, e.event(domain.EventFeesClaimed, now, map[string]any{
		"account": c.Caller.Hex(),
		"amount":  bal,
	}), nil
}

// WithdrawPlatformFees sweeps the ledger-held platform share (early-withdraw
// penalties) to the given destination. Restricted to the treasury role.
func (e *Engine) WithdrawPlatformFees(c Call, to common.Address) (uint64, error) {
	if err := e.requireRole(c.Caller, RoleTreasury); err != nil {
		return 0, err
	}
	amount := e.fees.platformPending
	if amount == 0 {
		return 0, domain.ErrNoFeesToClaim
	}
	direct, err := addChecked(e.fees.treasuryDirect, amount)
	if err != nil {
		return 0, err
	}
	if err := e.fees.payout(amount); err != nil {
		return 0, err
	}
	e.fees.platformPending = 0
	e.fees.treasuryDirect = direct
	e.commit()
	e.clock(c)
	return amount, nil
}

// FeeBalanceSnapshot returns the claimable balance rows in first-seen order
// for persistence.
func (e *Engine) FeeBalanceSnapshot(at time.Time) []domain.FeeBalance {
	out := make([]domain.FeeBalance, 0, len(e.fees.order))
	for _, addr := range e.fees.order {
		out = append(out, domain.FeeBalance{
			Account:   addr,
			Amount:    e.fees.balances[addr],
			UpdatedAt: at,
		})
	}
	return out
}
