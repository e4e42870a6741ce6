package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opinionmkt/opiniond/internal/domain"
)

func TestCreateOpinion(t *testing.T) {
	e := newTestEngine(t)
	alice := addr(1)

	o, events, err := e.CreateOpinion(callAt(alice, 10_000_000, 1, testBase), CreateOpinionArgs{
		Question:     "Will ETH flip BTC?",
		Answer:       "no",
		Description:  "not this cycle",
		Categories:   []string{"crypto", "economy"},
		InitialPrice: 2_000,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOpinionCreated, events[0].Kind)

	assert.Equal(t, uint64(1), o.ID)
	assert.Equal(t, alice, o.Creator)
	assert.Equal(t, alice, o.QuestionOwner)
	assert.Equal(t, alice, o.CurrentAnswerOwner)
	assert.Equal(t, uint64(2_000), o.NextPrice)
	assert.Equal(t, uint64(0), o.LastPrice)
	assert.True(t, o.IsActive)
	assert.Equal(t, uint64(2), e.NextOpinionID())

	// Tiny initial price: the percentage fee rounds to zero, the floor applies.
	totals := e.FeeTotals()
	assert.Equal(t, e.Params().MinCreationFee, totals.TreasuryDirect)

	h, err := e.AnswerHistory(o.ID)
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.Equal(t, "no", h[0].Answer)
	assert.Equal(t, uint64(2_000), h[0].Price)
}

func TestCreateOpinionValidation(t *testing.T) {
	e := newTestEngine(t)
	alice := addr(1)
	valid := CreateOpinionArgs{
		Question: "q", Answer: "a", InitialPrice: 1_000_000, Categories: []string{"other"},
	}

	cases := []struct {
		name   string
		mutate func(*CreateOpinionArgs)
		want   error
	}{
		{"empty question", func(a *CreateOpinionArgs) { a.Question = "  " }, domain.ErrEmptyString},
		{"empty answer", func(a *CreateOpinionArgs) { a.Answer = "" }, domain.ErrEmptyString},
		{"no categories", func(a *CreateOpinionArgs) { a.Categories = nil }, domain.ErrEmptyString},
		{"four categories", func(a *CreateOpinionArgs) {
			a.Categories = []string{"a", "b", "c", "d"}
		}, domain.ErrTooManyCategories},
		{"zero price", func(a *CreateOpinionArgs) { a.InitialPrice = 0 }, domain.ErrPriceBelowMinimum},
		{"dust price", func(a *CreateOpinionArgs) { a.InitialPrice = 999 }, domain.ErrPriceBelowMinimum},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			args := valid
			tc.mutate(&args)
			_, _, err := e.CreateOpinion(callAt(alice, 10_000_000, 1, testBase), args)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("question too long", func(t *testing.T) {
		args := valid
		args.Question = strings.Repeat("x", e.Params().MaxQuestionLen+1)
		_, _, err := e.CreateOpinion(callAt(alice, 10_000_000, 1, testBase), args)
		var tooLong *domain.TextTooLongError
		require.ErrorAs(t, err, &tooLong)
		assert.Equal(t, "question", tooLong.Field)
	})

	t.Run("allowance below creation fee", func(t *testing.T) {
		_, _, err := e.CreateOpinion(callAt(alice, 999_999, 1, testBase), valid)
		var insufficient *domain.InsufficientAllowanceError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, uint64(1_000_000), insufficient.Required)
	})
}

func TestCreateOpinionGate(t *testing.T) {
	e := newTestEngine(t)
	p := e.Params()
	p.PublicCreationEnabled = false
	require.NoError(t, e.SetParams(callAt(testAdmin, 0, 1, testBase), p))

	args := CreateOpinionArgs{
		Question: "q", Answer: "a", InitialPrice: 1_000_000, Categories: []string{"other"},
	}
	_, _, err := e.CreateOpinion(callAt(addr(1), 10_000_000, 1, testBase), args)
	assert.ErrorIs(t, err, domain.ErrCreationDisabled)

	op := addr(2)
	require.NoError(t, e.GrantRole(callAt(testAdmin, 0, 1, testBase), RoleOperator, op))
	_, _, err = e.CreateOpinion(callAt(op, 10_000_000, 1, testBase), args)
	assert.NoError(t, err)
}

func TestSubmitAnswerFirstTradePaysInitialPrice(t *testing.T) {
	e := newTestEngine(t)
	alice, bob := addr(1), addr(2)
	id := mustCreate(t, e, alice, 2_000)

	o, events, err := e.SubmitAnswer(callAt(bob, 2_000, 2, testBase.Add(time.Minute)), SubmitAnswerArgs{
		OpinionID: id, Answer: "no", Description: "it will not",
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventAnswerSubmitted, events[0].Kind)
	assert.Equal(t, domain.EventFeesAccrued, events[1].Kind)

	assert.Equal(t, uint64(2_000), o.LastPrice)
	assert.Equal(t, uint64(2_000), o.TotalVolume)
	assert.Equal(t, bob, o.CurrentAnswerOwner)
	assert.Equal(t, alice, o.QuestionOwner)
	assert.Equal(t, "no", o.CurrentAnswer)
	assert.GreaterOrEqual(t, o.NextPrice, e.Params().MinimumPrice)
}

func TestSubmitAnswerRejections(t *testing.T) {
	e := newTestEngine(t)
	alice, bob := addr(1), addr(2)
	id := mustCreate(t, e, alice, 1_000_000)

	_, _, err := e.SubmitAnswer(callAt(bob, 1_000_000, 2, testBase), SubmitAnswerArgs{
		OpinionID: 99, Answer: "no",
	})
	assert.ErrorIs(t, err, domain.ErrOpinionNotFound)

	// The creator already owns the initial answer.
	_, _, err = e.SubmitAnswer(callAt(alice, 1_000_000, 2, testBase), SubmitAnswerArgs{
		OpinionID: id, Answer: "no",
	})
	assert.ErrorIs(t, err, domain.ErrSameOwner)

	_, _, err = e.SubmitAnswer(callAt(bob, 999_999, 2, testBase), SubmitAnswerArgs{
		OpinionID: id, Answer: "no",
	})
	var insufficient *domain.InsufficientAllowanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, uint64(1_000_000), insufficient.Required)
	assert.Equal(t, uint64(999_999), insufficient.Provided)

	_, _, err = e.SubmitAnswer(callAt(bob, 1_000_000, 2, testBase), SubmitAnswerArgs{
		OpinionID: id, Answer: "   ",
	})
	assert.ErrorIs(t, err, domain.ErrEmptyString)

	// Deactivated opinions reject trades until toggled back.
	_, _, err = e.SetActive(callAt(testAdmin, 0, 2, testBase), SetActiveArgs{OpinionID: id, Active: false})
	require.NoError(t, err)
	_, _, err = e.SubmitAnswer(callAt(bob, 1_000_000, 2, testBase), SubmitAnswerArgs{
		OpinionID: id, Answer: "no",
	})
	assert.ErrorIs(t, err, domain.ErrOpinionNotActive)
}

func TestVolumeMonotonic(t *testing.T) {
	e := newTestEngine(t)
	actors := []struct{ a, b byte }{{1, 2}, {2, 3}, {3, 1}}
	id := mustCreate(t, e, addr(1), 2_000_000)

	var prev uint64
	ts := testBase
	for i, pair := range actors {
		ts = ts.Add(time.Minute)
		o, err := e.GetOpinion(id)
		require.NoError(t, err)
		buyer := addr(pair.b)
		if o.CurrentAnswerOwner == buyer {
			buyer = addr(pair.a)
		}
		updated, _, err := e.SubmitAnswer(callAt(buyer, o.NextPrice, uint64(2+i), ts), SubmitAnswerArgs{
			OpinionID: id, Answer: "round",
		})
		require.NoError(t, err)
		assert.Greater(t, updated.TotalVolume, prev)
		prev = updated.TotalVolume
	}
}

func TestQuestionSale(t *testing.T) {
	e := newTestEngine(t)
	alice, bob := addr(1), addr(2)
	id := mustCreate(t, e, alice, 1_000_000)

	_, _, err := e.BuyQuestion(callAt(bob, 5_000_000, 2, testBase), BuyQuestionArgs{
		OpinionID: id, OfferedPrice: 5_000_000,
	})
	assert.ErrorIs(t, err, domain.ErrNotForSale)

	_, _, err = e.ListQuestionForSale(callAt(bob, 0, 2, testBase), ListForSaleArgs{
		OpinionID: id, SalePrice: 3_000_000,
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, _, err = e.ListQuestionForSale(callAt(alice, 0, 2, testBase), ListForSaleArgs{
		OpinionID: id, SalePrice: 3_000_000,
	})
	require.NoError(t, err)

	_, _, err = e.BuyQuestion(callAt(alice, 3_000_000, 2, testBase), BuyQuestionArgs{
		OpinionID: id, OfferedPrice: 3_000_000,
	})
	assert.ErrorIs(t, err, domain.ErrSameOwner)

	_, _, err = e.BuyQuestion(callAt(bob, 3_000_000, 2, testBase), BuyQuestionArgs{
		OpinionID: id, OfferedPrice: 2_999_999,
	})
	var insufficient *domain.InsufficientAllowanceError
	assert.ErrorAs(t, err, &insufficient)

	before := e.FeeTotals()
	o, _, err := e.BuyQuestion(callAt(bob, 3_000_000, 2, testBase), BuyQuestionArgs{
		OpinionID: id, OfferedPrice: 3_000_000,
	})
	require.NoError(t, err)
	assert.Equal(t, bob, o.QuestionOwner)
	assert.Equal(t, uint64(0), o.SalePrice)

	// Platform cut straight to treasury, seller credited the rest.
	cut := uint64(3_000_000) * e.Params().PlatformFeeBps / 10_000
	after := e.FeeTotals()
	assert.Equal(t, cut, after.TreasuryDirect-before.TreasuryDirect)
	assert.Equal(t, uint64(3_000_000)-cut, e.AccumulatedFees(alice))

	// Delisting resets with price zero.
	_, _, err = e.ListQuestionForSale(callAt(bob, 0, 2, testBase), ListForSaleArgs{
		OpinionID: id, SalePrice: 0,
	})
	require.NoError(t, err)
	_, _, err = e.BuyQuestion(callAt(alice, 5_000_000, 2, testBase), BuyQuestionArgs{
		OpinionID: id, OfferedPrice: 5_000_000,
	})
	assert.ErrorIs(t, err, domain.ErrNotForSale)
}

func TestModerateAnswer(t *testing.T) {
	e := newTestEngine(t)
	alice, bob := addr(1), addr(2)
	id := mustCreate(t, e, alice, 1_000_000)

	_, _, err := e.SubmitAnswer(callAt(bob, 1_000_000, 2, testBase), SubmitAnswerArgs{
		OpinionID: id, Answer: "spam",
	})
	require.NoError(t, err)

	_, _, err = e.ModerateAnswer(callAt(bob, 0, 2, testBase), ModerateAnswerArgs{
		OpinionID: id, Reason: "self-moderation",
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	before, err := e.GetOpinion(id)
	require.NoError(t, err)
	o, _, err := e.ModerateAnswer(callAt(testAdmin, 0, 2, testBase), ModerateAnswerArgs{
		OpinionID: id, Reason: "spam",
	})
	require.NoError(t, err)

	// Ownership reverts to the creator; prices and history stay intact.
	assert.Equal(t, alice, o.CurrentAnswerOwner)
	assert.Equal(t, before.NextPrice, o.NextPrice)
	assert.Equal(t, before.LastPrice, o.LastPrice)
}

func TestSetActiveToggle(t *testing.T) {
	e := newTestEngine(t)
	id := mustCreate(t, e, addr(1), 1_000_000)

	_, _, err := e.SetActive(callAt(testAdmin, 0, 2, testBase), SetActiveArgs{OpinionID: id, Active: true})
	assert.ErrorIs(t, err, domain.ErrAlreadyActive)

	o, _, err := e.SetActive(callAt(testAdmin, 0, 2, testBase), SetActiveArgs{OpinionID: id, Active: false})
	require.NoError(t, err)
	assert.False(t, o.IsActive)

	o, _, err = e.SetActive(callAt(testAdmin, 0, 2, testBase), SetActiveArgs{OpinionID: id, Active: true})
	require.NoError(t, err)
	assert.True(t, o.IsActive)
}
