package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Opinion is a tradeable question record. The current answer, its owner, and
// the question ownership itself all change hands through engine transitions;
// the creator never does.
type Opinion struct {
	ID                       uint64
	Question                 string
	CurrentAnswer            string
	CurrentAnswerDescription string
	Link                     string
	IPFSHash                 string
	Categories               []string
	Creator                  common.Address
	QuestionOwner            common.Address
	CurrentAnswerOwner       common.Address
	LastPrice                uint64
	NextPrice                uint64
	SalePrice                uint64 // 0 when the question is not listed for sale
	TotalVolume              uint64
	IsActive                 bool
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// AnswerHistoryEntry is one row of the append-only per-opinion answer log.
// Entries are never mutated or deleted once written.
type AnswerHistoryEntry struct {
	OpinionID   uint64
	Answer      string
	Description string
	Owner       common.Address
	Price       uint64
	Timestamp   time.Time
}
