package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FeeBalance is a per-account accumulated, claimable balance. Balances only
// grow through trade splits and are zeroed on claim; they are never pushed.
type FeeBalance struct {
	Account   common.Address
	Amount    uint64
	UpdatedAt time.Time
}

// FeeTotals summarizes the fee ledger for auditing. AccumulatedLifetime plus
// TreasuryDirect must always equal the sum of every fee share ever allocated.
type FeeTotals struct {
	AccumulatedLifetime uint64 // all creator/owner shares ever credited
	ClaimedLifetime     uint64 // all balances ever claimed out
	TreasuryDirect      uint64 // platform and creation fees paid straight to treasury
	Backing             uint64 // funds the ledger currently holds
}
