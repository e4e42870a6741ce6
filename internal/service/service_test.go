package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opinionmkt/opiniond/internal/domain"
	"github.com/opinionmkt/opiniond/internal/engine"
)

// In-memory store fakes. They mirror the postgres stores closely enough for
// the writer's write-through and the replayer's paging.

type memStores struct {
	mu       sync.Mutex
	opinions map[uint64]domain.Opinion
	history  []domain.AnswerHistoryEntry
	pools    map[uint64]domain.Pool
	contribs map[uint64]map[common.Address]domain.PoolContribution
	balances map[common.Address]domain.FeeBalance
	totals   domain.FeeTotals
	journal  []domain.JournalEntry
}

func newMemStores() *memStores {
	return &memStores{
		opinions: make(map[uint64]domain.Opinion),
		pools:    make(map[uint64]domain.Pool),
		contribs: make(map[uint64]map[common.Address]domain.PoolContribution),
		balances: make(map[common.Address]domain.FeeBalance),
	}
}

func (m *memStores) Upsert(_ context.Context, o domain.Opinion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opinions[o.ID] = o
	return nil
}

func (m *memStores) GetByID(_ context.Context, id uint64) (domain.Opinion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.opinions[id]
	if !ok {
		return domain.Opinion{}, domain.ErrOpinionNotFound
	}
	return o, nil
}

func (m *memStores) List(_ context.Context, _ domain.ListOpts) ([]domain.Opinion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Opinion, 0, len(m.opinions))
	for _, o := range m.opinions {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStores) ListByCategory(ctx context.Context, category string, opts domain.ListOpts) ([]domain.Opinion, error) {
	all, _ := m.List(ctx, opts)
	var out []domain.Opinion
	for _, o := range all {
		for _, c := range o.Categories {
			if c == category {
				out = append(out, o)
				break
			}
		}
	}
	return out, nil
}

func (m *memStores) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.opinions)), nil
}

type memHistory struct{ m *memStores }

func (h memHistory) Append(_ context.Context, e domain.AnswerHistoryEntry) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	h.m.history = append(h.m.history, e)
	return nil
}

func (h memHistory) ListByOpinion(_ context.Context, opinionID uint64, _ domain.ListOpts) ([]domain.AnswerHistoryEntry, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	var out []domain.AnswerHistoryEntry
	for _, e := range h.m.history {
		if e.OpinionID == opinionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (h memHistory) ListBefore(_ context.Context, before time.Time) ([]domain.AnswerHistoryEntry, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	var out []domain.AnswerHistoryEntry
	for _, e := range h.m.history {
		if e.Timestamp.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

type memPools struct{ m *memStores }

func (p memPools) Upsert(_ context.Context, pool domain.Pool) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	p.m.pools[pool.ID] = pool
	return nil
}

func (p memPools) GetByID(_ context.Context, id uint64) (domain.Pool, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	pool, ok := p.m.pools[id]
	if !ok {
		return domain.Pool{}, domain.ErrInvalidPoolID
	}
	return pool, nil
}

func (p memPools) ListByOpinion(_ context.Context, opinionID uint64, _ domain.ListOpts) ([]domain.Pool, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	var out []domain.Pool
	for _, pool := range p.m.pools {
		if pool.OpinionID == opinionID {
			out = append(out, pool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p memPools) ListByStatus(_ context.Context, status domain.PoolStatus, _ domain.ListOpts) ([]domain.Pool, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	var out []domain.Pool
	for _, pool := range p.m.pools {
		if pool.Status == status {
			out = append(out, pool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p memPools) UpsertContribution(_ context.Context, c domain.PoolContribution) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	byAddr, ok := p.m.contribs[c.PoolID]
	if !ok {
		byAddr = make(map[common.Address]domain.PoolContribution)
		p.m.contribs[c.PoolID] = byAddr
	}
	byAddr[c.Contributor] = c
	return nil
}

func (p memPools) ListContributions(_ context.Context, poolID uint64) ([]domain.PoolContribution, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	var out []domain.PoolContribution
	for _, c := range p.m.contribs[poolID] {
		out = append(out, c)
	}
	return out, nil
}

type memFees struct{ m *memStores }

func (f memFees) UpsertBalance(_ context.Context, b domain.FeeBalance) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	f.m.balances[b.Account] = b
	return nil
}

func (f memFees) GetBalance(_ context.Context, account common.Address) (domain.FeeBalance, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	return f.m.balances[account], nil
}

func (f memFees) ListBalances(_ context.Context, _ domain.ListOpts) ([]domain.FeeBalance, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	var out []domain.FeeBalance
	for _, b := range f.m.balances {
		if b.Amount > 0 {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f memFees) SetTotals(_ context.Context, t domain.FeeTotals) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	f.m.totals = t
	return nil
}

func (f memFees) GetTotals(_ context.Context) (domain.FeeTotals, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	return f.m.totals, nil
}

type memJournal struct{ m *memStores }

func (j memJournal) Append(_ context.Context, e domain.JournalEntry) error {
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	j.m.journal = append(j.m.journal, e)
	return nil
}

func (j memJournal) ListFrom(_ context.Context, fromSeq uint64, limit int) ([]domain.JournalEntry, error) {
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range j.m.journal {
		if e.Seq >= fromSeq {
			out = append(out, e)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (j memJournal) ListBefore(_ context.Context, before time.Time) ([]domain.JournalEntry, error) {
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range j.m.journal {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j memJournal) LastSeq(_ context.Context) (uint64, error) {
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	if len(j.m.journal) == 0 {
		return 0, nil
	}
	return j.m.journal[len(j.m.journal)-1].Seq, nil
}

type memCache struct {
	mu sync.Mutex
	m  map[uint64]domain.Opinion
}

func newMemCache() *memCache { return &memCache{m: make(map[uint64]domain.Opinion)} }

func (c *memCache) Get(_ context.Context, id uint64) (domain.Opinion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.m[id]
	if !ok {
		return domain.Opinion{}, domain.ErrNotFound
	}
	return o, nil
}

func (c *memCache) Set(_ context.Context, o domain.Opinion) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[o.ID] = o
	return nil
}

func (c *memCache) Invalidate(_ context.Context, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
	return nil
}

type memBus struct {
	mu     sync.Mutex
	events [][]byte
}

func (b *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

// Test fixture.

type fixture struct {
	mem      *memStores
	cache    *memCache
	bus      *memBus
	writer   *Writer
	opinions *OpinionService
	pools    *PoolService
	fees     *FeeService
	admin    *AdminService
	clock    time.Time
}

var (
	fixAdmin    = common.HexToAddress("0x00000000000000000000000000000000000000AD")
	fixTreasury = common.HexToAddress("0x000000000000000000000000000000000000007E")
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	eng, err := engine.New(engine.DefaultParams(), fixTreasury, fixAdmin)
	require.NoError(t, err)

	mem := newMemStores()
	cache := newMemCache()
	bus := &memBus{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stores := Stores{
		Opinions: mem,
		History:  memHistory{mem},
		Pools:    memPools{mem},
		Fees:     memFees{mem},
		Journal:  memJournal{mem},
	}
	w := NewWriter(eng, stores, cache, bus, 12*time.Second, logger)

	f := &fixture{
		mem:    mem,
		cache:  cache,
		bus:    bus,
		writer: w,
		clock:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	// Each write lands in its own throttle block so tests here never trip
	// the per-block trade limit.
	w.now = func() time.Time {
		f.clock = f.clock.Add(13 * time.Second)
		return f.clock
	}
	f.opinions = NewOpinionService(w, mem, memHistory{mem}, cache, logger)
	f.pools = NewPoolService(w, memPools{mem}, logger)
	f.fees = NewFeeService(w, memFees{mem}, logger)
	f.admin = NewAdminService(w, logger)
	return f
}

func acct(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func TestWriteThroughPersistence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := acct(1), acct(2)

	o, err := f.opinions.Create(ctx, alice, 10_000_000, engine.CreateOpinionArgs{
		Question: "q", Answer: "a", InitialPrice: 1_000_000, Categories: []string{"crypto"},
	})
	require.NoError(t, err)

	stored, err := f.mem.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o, stored)
	assert.Len(t, f.mem.journal, 1)
	assert.Equal(t, domain.OpCreateOpinion, f.mem.journal[0].Op)
	assert.Len(t, f.mem.history, 1)
	assert.NotEmpty(t, f.bus.events)

	o2, err := f.opinions.SubmitAnswer(ctx, bob, 1_000_000, engine.SubmitAnswerArgs{
		OpinionID: o.ID, Answer: "b",
	})
	require.NoError(t, err)

	stored, err = f.mem.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o2, stored)
	assert.Len(t, f.mem.history, 2)

	// Displaced owners' balances are written through.
	assert.Equal(t, f.writer.Engine().AccumulatedFees(alice), f.mem.balances[alice].Amount)
	totals, err := memFees{f.mem}.GetTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.writer.Engine().FeeTotals(), totals)
}

func TestFailedCallLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := acct(1)

	_, err := f.opinions.Create(ctx, alice, 10_000_000, engine.CreateOpinionArgs{
		Question: "q", Answer: "a", InitialPrice: 1_000_000, Categories: []string{"crypto"},
	})
	require.NoError(t, err)

	// Creator already owns the answer: rejected by the engine.
	_, err = f.opinions.SubmitAnswer(ctx, alice, 1_000_000, engine.SubmitAnswerArgs{
		OpinionID: 1, Answer: "b",
	})
	require.ErrorIs(t, err, domain.ErrSameOwner)

	assert.Len(t, f.mem.journal, 1)
	assert.Len(t, f.mem.history, 1)
}

func TestReplayRebuildsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := acct(1), acct(2), acct(3)

	_, err := f.opinions.Create(ctx, alice, 10_000_000, engine.CreateOpinionArgs{
		Question: "q", Answer: "a", InitialPrice: 2_000_000, Categories: []string{"politics"},
	})
	require.NoError(t, err)

	traders := []common.Address{bob, carol, alice, bob, carol}
	for _, trader := range traders {
		o, err := f.opinions.Get(ctx, 1)
		require.NoError(t, err)
		if o.CurrentAnswerOwner == trader {
			continue
		}
		_, err = f.opinions.SubmitAnswer(ctx, trader, o.NextPrice, engine.SubmitAnswerArgs{
			OpinionID: 1, Answer: "next",
		})
		require.NoError(t, err)
	}

	_, err = f.pools.Create(ctx, bob, 20_000_000, engine.CreatePoolArgs{
		OpinionID:           1,
		ProposedAnswer:      "pooled",
		Name:                "rally",
		Deadline:            f.clock.Add(48 * time.Hour),
		InitialContribution: 1_500_000,
	})
	require.NoError(t, err)

	_, err = f.fees.Claim(ctx, alice)
	require.NoError(t, err)

	require.NoError(t, f.admin.Pause(ctx, fixAdmin))
	require.NoError(t, f.admin.Unpause(ctx, fixAdmin))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	replayer := NewReplayer(memJournal{f.mem}, logger)
	rebuilt, err := replayer.Rebuild(ctx, engine.DefaultParams(), fixTreasury, fixAdmin)
	require.NoError(t, err)

	live := f.writer.Engine()
	assert.Equal(t, live.Seq(), rebuilt.Seq())
	assert.Equal(t, live.FeeTotals(), rebuilt.FeeTotals())

	wantO, err := live.GetOpinion(1)
	require.NoError(t, err)
	gotO, err := rebuilt.GetOpinion(1)
	require.NoError(t, err)
	assert.Equal(t, wantO, gotO)

	wantP, err := live.GetPool(1)
	require.NoError(t, err)
	gotP, err := rebuilt.GetPool(1)
	require.NoError(t, err)
	assert.Equal(t, wantP, gotP)

	wantH, err := live.AnswerHistory(1)
	require.NoError(t, err)
	gotH, err := rebuilt.AnswerHistory(1)
	require.NoError(t, err)
	assert.Equal(t, wantH, gotH)
}

func TestGetFallsBackToEngineAndBackfillsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := acct(1)

	o, err := f.opinions.Create(ctx, alice, 10_000_000, engine.CreateOpinionArgs{
		Question: "q", Answer: "a", InitialPrice: 1_000_000, Categories: []string{"science"},
	})
	require.NoError(t, err)

	// The write invalidated any cached copy; the first read backfills it.
	got, err := f.opinions.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o, got)

	cached, err := f.cache.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o, cached)
}
