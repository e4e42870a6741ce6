package engine

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opinionmkt/opiniond/internal/domain"
)

var testBase = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

var (
	testAdmin    = addr(0xAD)
	testTreasury = addr(0x7E)
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(DefaultParams(), testTreasury, testAdmin)
	require.NoError(t, err)
	return e
}

func callAt(caller common.Address, allowance, block uint64, ts time.Time) Call {
	return Call{Caller: caller, Allowance: allowance, Block: block, Time: ts}
}

// mustCreate makes an opinion with the given initial price and returns its id.
func mustCreate(t *testing.T, e *Engine, creator common.Address, price uint64) uint64 {
	t.Helper()
	o, _, err := e.CreateOpinion(callAt(creator, 10_000_000, 1, testBase), CreateOpinionArgs{
		Question:     "Will it rain tomorrow?",
		Answer:       "yes",
		InitialPrice: price,
		Categories:   []string{"science"},
	})
	require.NoError(t, err)
	return o.ID
}

func TestPauseUnpause(t *testing.T) {
	e := newTestEngine(t)
	alice := addr(1)

	_, err := e.Pause(callAt(alice, 0, 1, testBase))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = e.Pause(callAt(testAdmin, 0, 1, testBase))
	require.NoError(t, err)
	assert.True(t, e.Paused())

	_, err = e.Pause(callAt(testAdmin, 0, 1, testBase))
	assert.ErrorIs(t, err, domain.ErrPaused)

	_, _, err = e.CreateOpinion(callAt(alice, 10_000_000, 1, testBase), CreateOpinionArgs{
		Question: "q", Answer: "a", InitialPrice: 5, Categories: []string{"other"},
	})
	assert.ErrorIs(t, err, domain.ErrPaused)

	_, err = e.Unpause(callAt(testAdmin, 0, 1, testBase))
	require.NoError(t, err)
	assert.False(t, e.Paused())

	_, err = e.Unpause(callAt(testAdmin, 0, 1, testBase))
	assert.ErrorIs(t, err, domain.ErrNotPaused)
}

func TestRoleGrantRevoke(t *testing.T) {
	e := newTestEngine(t)
	mod := addr(2)

	require.NoError(t, e.GrantRole(callAt(testAdmin, 0, 1, testBase), RoleModerator, mod))
	assert.True(t, e.HasRole(mod, RoleModerator))
	assert.False(t, e.HasRole(mod, RoleTreasury))

	err := e.GrantRole(callAt(testAdmin, 0, 1, testBase), RoleModerator, mod)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	err = e.GrantRole(callAt(mod, 0, 1, testBase), RoleOperator, addr(3))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, e.RevokeRole(callAt(testAdmin, 0, 1, testBase), RoleModerator, mod))
	assert.False(t, e.HasRole(mod, RoleModerator))

	// The last admin cannot revoke itself out of existence.
	err = e.RevokeRole(callAt(testAdmin, 0, 1, testBase), RoleAdmin, testAdmin)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAdminImpliesAllRoles(t *testing.T) {
	e := newTestEngine(t)
	assert.True(t, e.HasRole(testAdmin, RoleModerator))
	assert.True(t, e.HasRole(testAdmin, RoleTreasury))
	assert.True(t, e.HasRole(testAdmin, RoleOperator))
}

func TestSetParamsValidates(t *testing.T) {
	e := newTestEngine(t)

	bad := DefaultParams()
	bad.PlatformFeeBps = 9_000
	bad.CreatorFeeBps = 2_000
	err := e.SetParams(callAt(testAdmin, 0, 1, testBase), bad)
	assert.Error(t, err)

	// A minimum price whose smallest band step rounds to zero is refused.
	bad = DefaultParams()
	bad.MinimumPrice = 10
	err = e.SetParams(callAt(testAdmin, 0, 1, testBase), bad)
	assert.Error(t, err)

	good := DefaultParams()
	good.MaxTradesPerBlock = 5
	require.NoError(t, e.SetParams(callAt(testAdmin, 0, 1, testBase), good))
	assert.Equal(t, uint32(5), e.Params().MaxTradesPerBlock)

	err = e.SetParams(callAt(addr(1), 0, 1, testBase), good)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestClockNeverRunsBackwards(t *testing.T) {
	e := newTestEngine(t)
	alice, bob := addr(1), addr(2)

	id := mustCreate(t, e, alice, 1_000_000)

	o1, _, err := e.SubmitAnswer(callAt(bob, 1_000_000, 2, testBase.Add(time.Hour)), SubmitAnswerArgs{
		OpinionID: id, Answer: "no",
	})
	require.NoError(t, err)

	// A stale host timestamp is clamped to the last seen time.
	o2, _, err := e.SubmitAnswer(callAt(alice, o1.NextPrice, 3, testBase.Add(-time.Hour)), SubmitAnswerArgs{
		OpinionID: id, Answer: "maybe",
	})
	require.NoError(t, err)
	assert.False(t, o2.UpdatedAt.Before(o1.UpdatedAt))
}

// Two engines fed the identical call sequence must land on identical state.
func TestReplayDeterminism(t *testing.T) {
	run := func() *Engine {
		e, err := New(DefaultParams(), testTreasury, testAdmin)
		require.NoError(t, err)
		actors := []common.Address{addr(1), addr(2), addr(3)}

		_, _, err = e.CreateOpinion(callAt(actors[0], 10_000_000, 1, testBase), CreateOpinionArgs{
			Question: "q", Answer: "a", InitialPrice: 2_000_000, Categories: []string{"crypto"},
		})
		require.NoError(t, err)

		ts := testBase
		block := uint64(2)
		for i := 0; i < 12; i++ {
			ts = ts.Add(10 * time.Minute)
			block++
			o, err := e.GetOpinion(1)
			require.NoError(t, err)
			buyer := actors[i%len(actors)]
			if buyer == o.CurrentAnswerOwner {
				buyer = actors[(i+1)%len(actors)]
			}
			_, _, err = e.SubmitAnswer(callAt(buyer, o.NextPrice, block, ts), SubmitAnswerArgs{
				OpinionID: 1, Answer: "a" + string(rune('0'+i)),
			})
			require.NoError(t, err)
		}
		return e
	}

	a, b := run(), run()
	oa, err := a.GetOpinion(1)
	require.NoError(t, err)
	ob, err := b.GetOpinion(1)
	require.NoError(t, err)

	assert.Equal(t, oa, ob)
	assert.Equal(t, a.FeeTotals(), b.FeeTotals())
	assert.Equal(t, a.Seq(), b.Seq())

	ha, err := a.AnswerHistory(1)
	require.NoError(t, err)
	hb, err := b.AnswerHistory(1)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}
