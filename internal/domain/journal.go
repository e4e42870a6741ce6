package domain

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Op enumerates the engine's write operations. The journal stores the op name
// with its arguments; replaying the journal in sequence order reproduces the
// exact engine state.
type Op string

const (
	OpCreateOpinion       Op = "create_opinion"
	OpSubmitAnswer        Op = "submit_answer"
	OpListQuestionForSale Op = "list_question_for_sale"
	OpBuyQuestion         Op = "buy_question"
	OpModerateAnswer      Op = "moderate_answer"
	OpSetActive           Op = "set_active"
	OpCreatePool          Op = "create_pool"
	OpContributeToPool    Op = "contribute_to_pool"
	OpWithdrawExpiredPool Op = "withdraw_expired_pool"
	OpEarlyWithdraw       Op = "early_withdraw"
	OpClaimFees           Op = "claim_fees"
	OpWithdrawPlatform    Op = "withdraw_platform_fees"
	OpPause               Op = "pause"
	OpUnpause             Op = "unpause"
	OpGrantRole           Op = "grant_role"
	OpRevokeRole          Op = "revoke_role"
	OpSetParams           Op = "set_params"
)

// JournalEntry is one committed transition in the append-only trade journal.
// Seq is assigned by the engine and totally orders all accepted calls.
type JournalEntry struct {
	Seq       uint64
	Op        Op
	Caller    common.Address
	Allowance uint64
	Block     uint64
	Args      json.RawMessage
	CreatedAt time.Time
}

// Event kinds published on the signal bus after a transition commits.
const (
	EventOpinionCreated  = "opinion_created"
	EventAnswerSubmitted = "answer_submitted"
	EventQuestionSold    = "question_sold"
	EventAnswerModerated = "answer_moderated"
	EventOpinionToggled  = "opinion_toggled"
	EventPoolCreated     = "pool_created"
	EventPoolContributed = "pool_contributed"
	EventPoolExecuted    = "pool_executed"
	EventPoolExpired     = "pool_expired"
	EventPoolRefunded    = "pool_refunded"
	EventFeesAccrued     = "fees_accrued"
	EventFeesClaimed     = "fees_claimed"
	EventEnginePaused    = "engine_paused"
	EventEngineUnpaused  = "engine_unpaused"
)

// Event is the envelope published on the signal bus and broadcast to
// websocket clients.
type Event struct {
	Kind      string          `json:"kind"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}
