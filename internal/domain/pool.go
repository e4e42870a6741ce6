package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolStatus represents the lifecycle state of a crowdfunding pool.
type PoolStatus string

const (
	PoolStatusActive   PoolStatus = "active"
	PoolStatusExecuted PoolStatus = "executed"
	PoolStatusExpired  PoolStatus = "expired"
)

// Pool is a crowdfunding campaign that, once funded to the referenced
// opinion's price, submits the proposed answer on the contributors' behalf.
type Pool struct {
	ID             uint64
	OpinionID      uint64
	ProposedAnswer string
	Name           string
	IPFSHash       string
	Creator        common.Address
	TotalAmount    uint64
	TargetPrice    uint64
	Deadline       time.Time
	Status         PoolStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PoolContribution tracks a single contributor's stake in a pool. Amount is
// zeroed on refund so a double withdrawal is detectable.
type PoolContribution struct {
	PoolID      uint64
	Contributor common.Address
	Amount      uint64
	UpdatedAt   time.Time
}
