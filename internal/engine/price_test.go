package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opinionmkt/opiniond/internal/domain"
)

func TestSingleTraderRegimeBounds(t *testing.T) {
	e := newTestEngine(t)
	alice, bob := addr(1), addr(2)
	id := mustCreate(t, e, alice, 10_000_000)

	// One distinct trader in the window: the swing regime applies and the
	// price may move either way within the absolute bound.
	o, _, err := e.SubmitAnswer(callAt(bob, 10_000_000, 2, testBase), SubmitAnswerArgs{
		OpinionID: id, Answer: "no",
	})
	require.NoError(t, err)

	maxPct := e.Params().AbsoluteMaxPriceChangePct
	lo := o.LastPrice - o.LastPrice*maxPct/100
	hi := o.LastPrice + o.LastPrice*maxPct/100
	assert.GreaterOrEqual(t, o.NextPrice, lo)
	assert.LessOrEqual(t, o.NextPrice, hi)
	assert.GreaterOrEqual(t, o.NextPrice, uint64(1))
}

func TestSingleTraderAfterWindowExpiry(t *testing.T) {
	e := newTestEngine(t)
	alice, bob := addr(1), addr(2)
	id := mustCreate(t, e, alice, 10_000_000)

	_, _, err := e.SubmitAnswer(callAt(bob, 10_000_000, 2, testBase), SubmitAnswerArgs{
		OpinionID: id, Answer: "no",
	})
	require.NoError(t, err)

	// A second distinct trader arrives only after the competition window has
	// rolled past the first trade, so the swing regime still applies.
	later := testBase.Add(e.Params().CompetitionWindow + time.Hour)
	o, err := e.GetOpinion(id)
	require.NoError(t, err)
	paid := o.NextPrice
	o, _, err = e.SubmitAnswer(callAt(alice, paid, 3, later), SubmitAnswerArgs{
		OpinionID: id, Answer: "yes again",
	})
	require.NoError(t, err)

	maxPct := e.Params().AbsoluteMaxPriceChangePct
	assert.LessOrEqual(t, o.NextPrice, paid+paid*maxPct/100)
}

func TestCompetitiveRegimeBand(t *testing.T) {
	e := newTestEngine(t)
	alice, bob, carol := addr(1), addr(2), addr(3)
	id := mustCreate(t, e, alice, 10_000_000)

	_, _, err := e.SubmitAnswer(callAt(bob, 10_000_000, 2, testBase), SubmitAnswerArgs{
		OpinionID: id, Answer: "no",
	})
	require.NoError(t, err)

	// Second distinct trader within the window flips the opinion into the
	// competitive regime: guaranteed increase inside the configured band.
	p := e.Params()
	ts := testBase
	for i := 0; i < 8; i++ {
		ts = ts.Add(10 * time.Minute)
		o, err := e.GetOpinion(id)
		require.NoError(t, err)
		buyer := carol
		if o.CurrentAnswerOwner == carol {
			buyer = bob
		}
		paid := o.NextPrice
		o, _, err = e.SubmitAnswer(callAt(buyer, paid, uint64(3+i), ts), SubmitAnswerArgs{
			OpinionID: id, Answer: "contested",
		})
		require.NoError(t, err)

		step := o.NextPrice - paid
		assert.Greater(t, o.NextPrice, paid, "competitive price must strictly increase")
		assert.GreaterOrEqual(t, step, paid*p.CompetitiveMinBandBps/10_000)
		assert.LessOrEqual(t, step, paid*p.CompetitiveMaxBandBps/10_000+1)
	}
}

func TestCompetitiveStepDeterministic(t *testing.T) {
	run := func() uint64 {
		e := newTestEngine(t)
		id := mustCreate(t, e, addr(1), 10_000_000)
		_, _, err := e.SubmitAnswer(callAt(addr(2), 10_000_000, 2, testBase), SubmitAnswerArgs{
			OpinionID: id, Answer: "no",
		})
		require.NoError(t, err)
		o, err := e.GetOpinion(id)
		require.NoError(t, err)
		o, _, err = e.SubmitAnswer(callAt(addr(3), o.NextPrice, 3, testBase.Add(time.Minute)), SubmitAnswerArgs{
			OpinionID: id, Answer: "yes",
		})
		require.NoError(t, err)
		return o.NextPrice
	}
	assert.Equal(t, run(), run())
}

func TestBlockThrottle(t *testing.T) {
	e := newTestEngine(t)
	id := mustCreate(t, e, addr(1), 1_000_000)

	// MaxTradesPerBlock trades land in one block window.
	max := int(e.Params().MaxTradesPerBlock)
	ts := testBase
	for i := 0; i < max; i++ {
		ts = ts.Add(time.Second)
		o, err := e.GetOpinion(id)
		require.NoError(t, err)
		_, _, err = e.SubmitAnswer(callAt(addr(byte(2+i)), o.NextPrice, 7, ts), SubmitAnswerArgs{
			OpinionID: id, Answer: "grab",
		})
		require.NoError(t, err)
	}

	// The next trade in the same block is throttled, no matter the caller.
	o, err := e.GetOpinion(id)
	require.NoError(t, err)
	_, _, err = e.SubmitAnswer(callAt(addr(0x50), o.NextPrice, 7, ts.Add(time.Second)), SubmitAnswerArgs{
		OpinionID: id, Answer: "grab",
	})
	assert.ErrorIs(t, err, domain.ErrTradeThrottled)
	var exceeded *domain.MaxTradesExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, e.Params().MaxTradesPerBlock, exceeded.Max)

	// A failed trade leaves no trace.
	after, err := e.GetOpinion(id)
	require.NoError(t, err)
	assert.Equal(t, o, after)

	// The next block window starts fresh.
	_, _, err = e.SubmitAnswer(callAt(addr(0x50), o.NextPrice, 8, ts.Add(2*time.Second)), SubmitAnswerArgs{
		OpinionID: id, Answer: "grab",
	})
	assert.NoError(t, err)
}

func TestRefusedTradeLeavesPricingUntouched(t *testing.T) {
	run := func(attemptThrottled bool) (uint64, uint64) {
		e := newTestEngine(t)
		id := mustCreate(t, e, addr(1), 1_000_000)
		max := int(e.Params().MaxTradesPerBlock)
		ts := testBase
		for i := 0; i < max; i++ {
			ts = ts.Add(time.Second)
			o, err := e.GetOpinion(id)
			require.NoError(t, err)
			_, _, err = e.SubmitAnswer(callAt(addr(byte(2+i)), o.NextPrice, 7, ts), SubmitAnswerArgs{
				OpinionID: id, Answer: "grab",
			})
			require.NoError(t, err)
		}
		if attemptThrottled {
			o, err := e.GetOpinion(id)
			require.NoError(t, err)
			_, _, err = e.SubmitAnswer(callAt(addr(0x50), o.NextPrice, 7, ts.Add(time.Second)), SubmitAnswerArgs{
				OpinionID: id, Answer: "grab",
			})
			require.ErrorIs(t, err, domain.ErrTradeThrottled)
		}
		o, err := e.GetOpinion(id)
		require.NoError(t, err)
		o, _, err = e.SubmitAnswer(callAt(addr(0x60), o.NextPrice, 8, ts.Add(2*time.Second)), SubmitAnswerArgs{
			OpinionID: id, Answer: "fresh block",
		})
		require.NoError(t, err)
		return o.NextPrice, e.Seq()
	}

	// A refused trade must not advance the entropy nonce or the trade
	// window: the run containing the throttled attempt prices the next
	// block identically to the run without it.
	priceA, seqA := run(true)
	priceB, seqB := run(false)
	assert.Equal(t, priceB, priceA)
	assert.Equal(t, seqB, seqA)
}

func TestThrottleIsPerOpinion(t *testing.T) {
	e := newTestEngine(t)
	first := mustCreate(t, e, addr(1), 1_000_000)
	second := mustCreate(t, e, addr(1), 1_000_000)

	max := int(e.Params().MaxTradesPerBlock)
	ts := testBase
	for i := 0; i < max; i++ {
		ts = ts.Add(time.Second)
		o, err := e.GetOpinion(first)
		require.NoError(t, err)
		_, _, err = e.SubmitAnswer(callAt(addr(byte(2+i)), o.NextPrice, 7, ts), SubmitAnswerArgs{
			OpinionID: first, Answer: "grab",
		})
		require.NoError(t, err)
	}

	// The sibling opinion has its own counter.
	o, err := e.GetOpinion(second)
	require.NoError(t, err)
	_, _, err = e.SubmitAnswer(callAt(addr(0x50), o.NextPrice, 7, ts), SubmitAnswerArgs{
		OpinionID: second, Answer: "grab",
	})
	assert.NoError(t, err)
}

func TestPriceFloorAtMinimum(t *testing.T) {
	e := newTestEngine(t)
	alice := addr(1)
	min := e.Params().MinimumPrice
	id := mustCreate(t, e, alice, min)

	// Walk the price down with a single trader; it can never drop below the
	// minimum, so a competitive band step never rounds to zero either.
	ts := testBase
	for i := 0; i < 20; i++ {
		ts = ts.Add(e.Params().CompetitionWindow + time.Hour)
		o, err := e.GetOpinion(id)
		require.NoError(t, err)
		buyer := addr(2)
		if o.CurrentAnswerOwner == buyer {
			buyer = addr(3)
		}
		o, _, err = e.SubmitAnswer(callAt(buyer, o.NextPrice, uint64(2+i), ts), SubmitAnswerArgs{
			OpinionID: id, Answer: "down",
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, o.NextPrice, min)
	}
}

func TestCompetitiveStepAtMinimumPrice(t *testing.T) {
	e := newTestEngine(t)
	min := e.Params().MinimumPrice
	id := mustCreate(t, e, addr(1), min)

	_, _, err := e.SubmitAnswer(callAt(addr(2), min, 2, testBase), SubmitAnswerArgs{
		OpinionID: id, Answer: "no",
	})
	require.NoError(t, err)

	// Contested trades at the floor still move: the minimum price is sized
	// so the smallest band step is at least one unit.
	ts := testBase
	for i := 0; i < 6; i++ {
		ts = ts.Add(time.Minute)
		o, err := e.GetOpinion(id)
		require.NoError(t, err)
		buyer := addr(3)
		if o.CurrentAnswerOwner == buyer {
			buyer = addr(2)
		}
		paid := o.NextPrice
		o, _, err = e.SubmitAnswer(callAt(buyer, paid, uint64(3+i), ts), SubmitAnswerArgs{
			OpinionID: id, Answer: "contested",
		})
		require.NoError(t, err)
		assert.Greater(t, o.NextPrice, paid)
		assert.LessOrEqual(t, o.NextPrice-paid, paid*e.Params().CompetitiveMaxBandBps/10_000+1)
	}
}
