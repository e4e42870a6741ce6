package engine

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// CreateOpinionArgs are the journaled arguments of OpCreateOpinion.
type CreateOpinionArgs struct {
	Question     string   `json:"question"`
	Answer       string   `json:"answer"`
	Description  string   `json:"description"`
	Link         string   `json:"link"`
	IPFSHash     string   `json:"ipfs_hash"`
	InitialPrice uint64   `json:"initial_price"`
	Categories   []string `json:"categories"`
}

// SubmitAnswerArgs are the journaled arguments of OpSubmitAnswer.
type SubmitAnswerArgs struct {
	OpinionID   uint64 `json:"opinion_id"`
	Answer      string `json:"answer"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

// ListForSaleArgs are the journaled arguments of OpListQuestionForSale.
// SalePrice 0 delists the question.
type ListForSaleArgs struct {
	OpinionID uint64 `json:"opinion_id"`
	SalePrice uint64 `json:"sale_price"`
}

// BuyQuestionArgs are the journaled arguments of OpBuyQuestion.
type BuyQuestionArgs struct {
	OpinionID    uint64 `json:"opinion_id"`
	OfferedPrice uint64 `json:"offered_price"`
}

// ModerateAnswerArgs are the journaled arguments of OpModerateAnswer.
type ModerateAnswerArgs struct {
	OpinionID uint64 `json:"opinion_id"`
	Reason    string `json:"reason"`
}

// SetActiveArgs are the journaled arguments of OpSetActive.
type SetActiveArgs struct {
	OpinionID uint64 `json:"opinion_id"`
	Active    bool   `json:"active"`
}

func (e *Engine) checkText(field, value string, max int) error {
	if len(value) > max {
		return &domain.TextTooLongError{Field: field, Len: len(value), Max: max}
	}
	return nil
}

// CreateOpinion assigns the next id, charges the creation fee straight to
// treasury, and stores the record with the caller as creator, question
// owner, and initial answer owner. The initial price is charged verbatim to
// the first trader; no pricing algorithm runs at creation.
func (e *Engine) CreateOpinion(c Call, args CreateOpinionArgs) (domain.Opinion, []domain.Event, error) {
	if e.paused {
		return domain.Opinion{}, nil, domain.ErrPaused
	}
	if !e.params.PublicCreationEnabled && !e.HasRole(c.Caller, RoleOperator) {
		return domain.Opinion{}, nil, domain.ErrCreationDisabled
	}
	if strings.TrimSpace(args.Question) == "" || strings.TrimSpace(args.Answer) == "" {
		return domain.Opinion{}, nil, domain.ErrEmptyString
	}
	if len(args.Categories) == 0 {
		return domain.Opinion{}, nil, domain.ErrEmptyString
	}
	if len(args.Categories) > 3 {
		return domain.Opinion{}, nil, domain.ErrTooManyCategories
	}
	if err := e.checkText("question", args.Question, e.params.MaxQuestionLen); err != nil {
		return domain.Opinion{}, nil, err
	}
	if err := e.checkText("answer", args.Answer, e.params.MaxAnswerLen); err != nil {
		return domain.Opinion{}, nil, err
	}
	if err := e.checkText("description", args.Description, e.params.MaxDescriptionLen); err != nil {
		return domain.Opinion{}, nil, err
	}
	if err := e.checkText("link", args.Link, e.params.MaxLinkLen); err != nil {
		return domain.Opinion{}, nil, err
	}
	if err := e.checkText("ipfs_hash", args.IPFSHash, e.params.MaxIPFSHashLen); err != nil {
		return domain.Opinion{}, nil, err
	}
	for _, cat := range args.Categories {
		if err := e.checkText("category", cat, e.params.MaxCategoryLen); err != nil {
			return domain.Opinion{}, nil, err
		}
	}
	if args.InitialPrice < e.params.MinimumPrice {
		return domain.Opinion{}, nil, domain.ErrPriceBelowMinimum
	}

	fee, err := bpsOf(args.InitialPrice, e.params.CreationFeeBps)
	if err != nil {
		return domain.Opinion{}, nil, err
	}
	if fee < e.params.MinCreationFee {
		fee = e.params.MinCreationFee
	}
	if c.Allowance < fee {
		return domain.Opinion{}, nil, &domain.InsufficientAllowanceError{Required: fee, Provided: c.Allowance}
	}
	if err := e.fees.settle(fee, fee); err != nil {
		return domain.Opinion{}, nil, err
	}

	now := e.clock(c)
	o := &domain.Opinion{
		ID:                       e.nextOpinionID,
		Question:                 args.Question,
		CurrentAnswer:            args.Answer,
		CurrentAnswerDescription: args.Description,
		Link:                     args.Link,
		IPFSHash:                 args.IPFSHash,
		Categories:               append([]string(nil), args.Categories...),
		Creator:                  c.Caller,
		QuestionOwner:            c.Caller,
		CurrentAnswerOwner:       c.Caller,
		NextPrice:                args.InitialPrice,
		IsActive:                 true,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	e.nextOpinionID++
	e.opinions[o.ID] = o
	e.history[o.ID] = append(e.history[o.ID], domain.AnswerHistoryEntry{
		OpinionID:   o.ID,
		Answer:      args.Answer,
		Description: args.Description,
		Owner:       c.Caller,
		Price:       args.InitialPrice,
		Timestamp:   now,
	})

	e.commit()
	ev := e.event(domain.EventOpinionCreated, now, map[string]any{
		"opinion_id":    o.ID,
		"creator":       c.Caller.Hex(),
		"initial_price": args.InitialPrice,
		"creation_fee":  fee,
	})
	return *o, []domain.Event{ev}, nil
}

// SubmitAnswer buys the current answer position: the caller pays exactly
// NextPrice, displaces the current answer owner, and the price engine
// derives the price the next trader must pay.
func (e *Engine) SubmitAnswer(c Call, args SubmitAnswerArgs) (domain.Opinion, []domain.Event, error) {
	if e.paused {
		return domain.Opinion{}, nil, domain.ErrPaused
	}
	o, ok := e.opinions[args.OpinionID]
	if !ok {
		return domain.Opinion{}, nil, domain.ErrOpinionNotFound
	}
	if !o.IsActive {
		return domain.Opinion{}, nil, domain.ErrOpinionNotActive
	}
	if o.CurrentAnswerOwner == c.Caller {
		return domain.Opinion{}, nil, domain.ErrSameOwner
	}
	price := o.NextPrice
	if c.Allowance < price {
		return domain.Opinion{}, nil, &domain.InsufficientAllowanceError{Required: price, Provided: c.Allowance}
	}
	return e.applyAnswer(c, o, args, c.Caller, price)
}

// applyAnswer is the shared trade path for direct submissions and pool
// executions. payer is the account recorded as the new answer owner; paid is
// the full payment entering the ledger (a pool may pay tolerance dust above
// the listed price).
func (e *Engine) applyAnswer(c Call, o *domain.Opinion, args SubmitAnswerArgs, payer common.Address, paid uint64) (domain.Opinion, []domain.Event, error) {
	if !o.IsActive {
		return domain.Opinion{}, nil, domain.ErrOpinionNotActive
	}
	if o.CurrentAnswerOwner == payer {
		return domain.Opinion{}, nil, domain.ErrSameOwner
	}
	if strings.TrimSpace(args.Answer) == "" {
		return domain.Opinion{}, nil, domain.ErrEmptyString
	}
	if err := e.checkText("answer", args.Answer, e.params.MaxAnswerLen); err != nil {
		return domain.Opinion{}, nil, err
	}
	if err := e.checkText("description", args.Description, e.params.MaxDescriptionLen); err != nil {
		return domain.Opinion{}, nil, err
	}
	if err := e.checkText("link", args.Link, e.params.MaxLinkLen); err != nil {
		return domain.Opinion{}, nil, err
	}
	if err := e.checkThrottle(o.ID, c.Block); err != nil {
		return domain.Opinion{}, nil, err
	}

	// Everything that can fail runs before the first mutation. A rejected
	// trade must leave the engine byte-identical or replay diverges.
	now := e.clock(c)
	newVolume, err := addChecked(o.TotalVolume, paid)
	if err != nil {
		return domain.Opinion{}, nil, err
	}
	next, err := e.nextPrice(o.ID, payer, paid, now)
	if err != nil {
		return domain.Opinion{}, nil, err
	}
	split, err := e.splitTrade(paid)
	if err != nil {
		return domain.Opinion{}, nil, err
	}
	if err := e.fees.settle(paid, split.platform,
		credit{account: o.QuestionOwner, amount: split.creator},
		credit{account: o.CurrentAnswerOwner, amount: split.owner},
	); err != nil {
		return domain.Opinion{}, nil, err
	}

	e.nonce++
	e.recordTrade(o.ID, payer, c.Block, now)

	prevOwner := o.CurrentAnswerOwner
	o.CurrentAnswer = args.Answer
	o.CurrentAnswerDescription = args.Description
	if args.Link != "" {
		o.Link = args.Link
	}
	o.CurrentAnswerOwner = payer
	o.LastPrice = paid
	o.NextPrice = next
	o.TotalVolume = newVolume
	o.UpdatedAt = now

	e.history[o.ID] = append(e.history[o.ID], domain.AnswerHistoryEntry{
		OpinionID:   o.ID,
		Answer:      args.Answer,
		Description: args.Description,
		Owner:       payer,
		Price:       paid,
		Timestamp:   now,
	})

	e.commit()
	ev := e.event(domain.EventAnswerSubmitted, now, map[string]any{
		"opinion_id":     o.ID,
		"owner":          payer.Hex(),
		"previous_owner": prevOwner.Hex(),
		"paid":           paid,
		"next_price":     next,
	})
	feeEv := e.event(domain.EventFeesAccrued, now, map[string]any{
		"opinion_id": o.ID,
		"platform":   split.platform,
		"creator":    split.creator,
		"owner":      split.owner,
	})
	return *o, []domain.Event{ev, feeEv}, nil
}

// ListQuestionForSale lists (or, with price 0, delists) the question
// ownership. Only the current question owner may list.
func (e *Engine) ListQuestionForSale(c Call, args ListForSaleArgs) (domain.Opinion, []domain.Event, error) {
	if e.paused {
		return domain.Opinion{}, nil, domain.ErrPaused
	}
	o, ok := e.opinions[args.OpinionID]
	if !ok {
		return domain.Opinion{}, nil, domain.ErrOpinionNotFound
	}
	if !o.IsActive {
		return domain.Opinion{}, nil, domain.ErrOpinionNotActive
	}
	if o.QuestionOwner != c.Caller {
		return domain.Opinion{}, nil, domain.ErrUnauthorized
	}
	now := e.clock(c)
	o.SalePrice = args.SalePrice
	o.UpdatedAt = now
	e.commit()
	ev := e.event(domain.EventOpinionToggled, now, map[string]any{
		"opinion_id": o.ID,
		"sale_price": args.SalePrice,
	})
	return *o, []domain.Event{ev}, nil
}

// BuyQuestion transfers question ownership to the caller. The previous owner
// is credited the sale price minus the platform cut through the fee ledger;
// the listing resets on completion.
func (e *Engine) BuyQuestion(c Call, args BuyQuestionArgs) (domain.Opinion, []domain.Event, error) {
	if e.paused {
		return domain.Opinion{}, nil, domain.ErrPaused
	}
	o, ok := e.opinions[args.OpinionID]
	if !ok {
		return domain.Opinion{}, nil, domain.ErrOpinionNotFound
	}
	if !o.IsActive {
		return domain.Opinion{}, nil, domain.ErrOpinionNotActive
	}
	if o.SalePrice == 0 {
		return domain.Opinion{}, nil, domain.ErrNotForSale
	}
	if o.QuestionOwner == c.Caller {
		return domain.Opinion{}, nil, domain.ErrSameOwner
	}
	if args.OfferedPrice < o.SalePrice || c.Allowance < o.SalePrice {
		provided := args.OfferedPrice
		if c.Allowance < provided {
			provided = c.Allowance
		}
		return domain.Opinion{}, nil, &domain.InsufficientAllowanceError{Required: o.SalePrice, Provided: provided}
	}

	paid := o.SalePrice
	cut, err := bpsOf(paid, e.params.PlatformFeeBps)
	if err != nil {
		return domain.Opinion{}, nil, err
	}
	seller := o.QuestionOwner
	if err := e.fees.settle(paid, cut, credit{account: seller, amount: paid - cut}); err != nil {
		return domain.Opinion{}, nil, err
	}

	now := e.clock(c)
	o.QuestionOwner = c.Caller
	o.SalePrice = 0
	o.UpdatedAt = now

	e.commit()
	ev := e.event(domain.EventQuestionSold, now, map[string]any{
		"opinion_id": o.ID,
		"seller":     seller.Hex(),
		"buyer":      c.Caller.Hex(),
		"paid":       paid,
	})
	return *o, []domain.Event{ev}, nil
}

// ModerateAnswer reverts the current answer ownership to the opinion creator
// without touching prices, nullifying abusive content while leaving the
// pricing history intact. Moderator role required.
func (e *Engine) ModerateAnswer(c Call, args ModerateAnswerArgs) (domain.Opinion, []domain.Event, error) {
	if err := e.requireRole(c.Caller, RoleModerator); err != nil {
		return domain.Opinion{}, nil, err
	}
	o, ok := e.opinions[args.OpinionID]
	if !ok {
		return domain.Opinion{}, nil, domain.ErrOpinionNotFound
	}
	now := e.clock(c)
	prev := o.CurrentAnswerOwner
	o.CurrentAnswerOwner = o.Creator
	o.UpdatedAt = now
	e.commit()
	ev := e.event(domain.EventAnswerModerated, now, map[string]any{
		"opinion_id":     o.ID,
		"previous_owner": prev.Hex(),
		"reason":         args.Reason,
	})
	return *o, []domain.Event{ev}, nil
}

// SetActive toggles trading on an opinion. Inactive opinions reject every
// trade until reactivated. Moderator role required.
func (e *Engine) SetActive(c Call, args SetActiveArgs) (domain.Opinion, []domain.Event, error) {
	if err := e.requireRole(c.Caller, RoleModerator); err != nil {
		return domain.Opinion{}, nil, err
	}
	o, ok := e.opinions[args.OpinionID]
	if !ok {
		return domain.Opinion{}, nil, domain.ErrOpinionNotFound
	}
	if o.IsActive == args.Active {
		return domain.Opinion{}, nil, domain.ErrAlreadyActive
	}
	now := e.clock(c)
	o.IsActive = args.Active
	o.UpdatedAt = now
	e.commit()
	ev := e.event(domain.EventOpinionToggled, now, map[string]any{
		"opinion_id": o.ID,
		"active":     args.Active,
	})
	return *o, []domain.Event{ev}, nil
}
