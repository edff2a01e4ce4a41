package persistence_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pairsrun/internal/domain/position"
	"github.com/sawpanic/pairsrun/internal/persistence"
	"github.com/sawpanic/pairsrun/internal/persistence/memory"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo persistence.PositionsRepo) *position.Record {
	t.Helper()
	rec := position.NewSelected("pos-1", "ETHUSDT", "BTCUSDT", position.StatSnapshot{ZScore: 2}, 50, position.StrategyParams{}, now)
	rec.Status = position.StatusTrading
	require.NoError(t, repo.Insert(context.Background(), rec))
	return rec
}

func noSleep(context.Context, time.Duration) error { return nil }

// countingRepo wraps a repo to count calls and optionally force outcomes
type countingRepo struct {
	persistence.PositionsRepo
	updates     int32
	gets        int32
	alwaysClash bool
	getNotFound bool
}

func (c *countingRepo) UpdateIfVersion(ctx context.Context, rec *position.Record, expected int64) (int64, error) {
	atomic.AddInt32(&c.updates, 1)
	if c.alwaysClash {
		return 0, persistence.ErrVersionConflict
	}
	return c.PositionsRepo.UpdateIfVersion(ctx, rec, expected)
}

func (c *countingRepo) Get(ctx context.Context, id string) (*position.Record, error) {
	atomic.AddInt32(&c.gets, 1)
	if c.getNotFound {
		return nil, persistence.ErrNotFound
	}
	return c.PositionsRepo.Get(ctx, id)
}

type recordingObserver struct {
	conflicts, exhausted, deleted int32
}

func (o *recordingObserver) OnConflict()         { atomic.AddInt32(&o.conflicts, 1) }
func (o *recordingObserver) OnRetriesExhausted() { atomic.AddInt32(&o.exhausted, 1) }
func (o *recordingObserver) OnDeleted()          { atomic.AddInt32(&o.deleted, 1) }

func TestDefaultRetryPolicyBackoff(t *testing.T) {
	p := persistence.DefaultRetryPolicy()
	assert.Equal(t, 10, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 10*time.Second, p.Backoff(9))
}

func TestSaveIncrementsVersion(t *testing.T) {
	repo := memory.NewPositionsRepo()
	rec := seed(t, repo)
	store := persistence.NewStore(repo, persistence.WithSleep(noSleep))

	rec.CurrentLongPrice = 101
	saved, err := store.Save(context.Background(), rec, persistence.FieldPrices)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	got, err := repo.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 101.0, got.CurrentLongPrice)
	assert.Equal(t, int64(2), got.Version)
}

func TestSaveMergesOnConflict(t *testing.T) {
	repo := memory.NewPositionsRepo()
	rec := seed(t, repo)
	store := persistence.NewStore(repo, persistence.WithSleep(noSleep))

	other := rec.Clone()
	other.CloseRequested = true
	_, err := store.Save(context.Background(), other, persistence.FieldCloseRequest)
	require.NoError(t, err)

	rec.CurrentShortPrice = 42
	rec.ZScoreHistory = append(rec.ZScoreHistory, position.ZScorePoint{Time: now, Value: 1.9})
	saved, err := store.Save(context.Background(), rec, persistence.FieldPrices|persistence.FieldZHistory)
	require.NoError(t, err)

	assert.Equal(t, int64(3), saved.Version)
	assert.True(t, saved.CloseRequested, "concurrent writer's field survives")
	assert.Equal(t, 42.0, saved.CurrentShortPrice)
	require.Len(t, saved.ZScoreHistory, 1)
}

func TestSaveFromDropsWriteAfterConcurrentClose(t *testing.T) {
	repo := memory.NewPositionsRepo()
	rec := seed(t, repo)
	store := persistence.NewStore(repo, persistence.WithSleep(noSleep))

	closer := rec.Clone()
	closer.Status = position.StatusClosed
	closer.ExitReason = position.ExitManual
	closed, err := store.SaveFrom(context.Background(), closer, position.StatusTrading, persistence.FieldStatus|persistence.FieldExitReason)
	require.NoError(t, err)

	rec.ProfitPercent = -7
	rec.CurrentLongPrice = 1
	_, err = store.SaveFrom(context.Background(), rec, position.StatusTrading, persistence.FieldPrices|persistence.FieldProfit)
	assert.ErrorIs(t, err, persistence.ErrStatusChanged)

	stored, err := repo.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, closed.Version, stored.Version)
	assert.Equal(t, position.StatusClosed, stored.Status)
	assert.Equal(t, position.ExitManual, stored.ExitReason)
	assert.Zero(t, stored.ProfitPercent)
	assert.Zero(t, stored.CurrentLongPrice)
}

func TestSaveFromMergesWhileStatusHolds(t *testing.T) {
	repo := memory.NewPositionsRepo()
	rec := seed(t, repo)
	store := persistence.NewStore(repo, persistence.WithSleep(noSleep))

	other := rec.Clone()
	other.CloseRequested = true
	_, err := store.SaveFrom(context.Background(), other, position.StatusTrading, persistence.FieldCloseRequest)
	require.NoError(t, err)

	rec.CurrentShortPrice = 42
	saved, err := store.SaveFrom(context.Background(), rec, position.StatusTrading, persistence.FieldPrices)
	require.NoError(t, err)
	assert.Equal(t, int64(3), saved.Version)
	assert.True(t, saved.CloseRequested)
	assert.Equal(t, 42.0, saved.CurrentShortPrice)
}

func TestConcurrentConflictingWritersBothSucceed(t *testing.T) {
	repo := memory.NewPositionsRepo()
	rec := seed(t, repo)
	obs := &recordingObserver{}
	store := persistence.NewStore(repo, persistence.WithSleep(noSleep), persistence.WithObserver(obs))

	a := rec.Clone()
	b := rec.Clone()
	start := rec.Version

	var wg sync.WaitGroup
	results := make([]*position.Record, 2)
	errs := make([]error, 2)
	run := func(i int, r *position.Record, f persistence.Fields) {
		defer wg.Done()
		results[i], errs[i] = store.Save(context.Background(), r, f)
	}

	a.CurrentLongPrice = 10
	a.PixelSpreadHistory = []position.PixelSpreadPoint{{Time: now, Pixels: 120}}
	b.ProfitPercent = 3.5
	b.ZScoreHistory = []position.ZScorePoint{{Time: now.Add(time.Minute), Value: 1.2}}

	wg.Add(2)
	go run(0, a, persistence.FieldPrices|persistence.FieldPixelHistory)
	go run(1, b, persistence.FieldProfit|persistence.FieldZHistory)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	final, err := repo.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, start+2, final.Version)
	assert.Greater(t, final.Version, start)
	assert.Equal(t, 10.0, final.CurrentLongPrice)
	assert.Equal(t, 3.5, final.ProfitPercent)
	assert.Len(t, final.PixelSpreadHistory, 1)
	assert.Len(t, final.ZScoreHistory, 1)
	assert.ElementsMatch(t, []int64{start + 1, start + 2}, []int64{results[0].Version, results[1].Version})
}

func TestSaveDeletedRecordFailsWithoutRetry(t *testing.T) {
	repo := memory.NewPositionsRepo()
	rec := seed(t, repo)
	counting := &countingRepo{PositionsRepo: repo}
	slept := 0
	store := persistence.NewStore(counting, persistence.WithSleep(func(context.Context, time.Duration) error {
		slept++
		return nil
	}))

	require.NoError(t, repo.Delete(context.Background(), rec.ID))

	_, err := store.Save(context.Background(), rec, persistence.FieldPrices)
	assert.ErrorIs(t, err, persistence.ErrRecordDeleted)
	assert.Equal(t, int32(1), counting.updates)
	assert.Equal(t, 0, slept)
}

func TestSaveConflictThenDeletedFailsImmediately(t *testing.T) {
	repo := memory.NewPositionsRepo()
	rec := seed(t, repo)
	counting := &countingRepo{PositionsRepo: repo, alwaysClash: true, getNotFound: true}
	obs := &recordingObserver{}
	store := persistence.NewStore(counting, persistence.WithSleep(noSleep), persistence.WithObserver(obs))

	_, err := store.Save(context.Background(), rec, persistence.FieldPrices)
	assert.ErrorIs(t, err, persistence.ErrRecordDeleted)
	assert.Equal(t, int32(1), counting.updates)
	assert.Equal(t, int32(1), obs.deleted)
}

func TestSaveExhaustsRetries(t *testing.T) {
	repo := memory.NewPositionsRepo()
	rec := seed(t, repo)
	counting := &countingRepo{PositionsRepo: repo, alwaysClash: true}
	obs := &recordingObserver{}
	var pauses []time.Duration
	store := persistence.NewStore(counting,
		persistence.WithObserver(obs),
		persistence.WithSleep(func(_ context.Context, d time.Duration) error {
			pauses = append(pauses, d)
			return nil
		}))

	_, err := store.Save(context.Background(), rec, persistence.FieldPrices)
	assert.ErrorIs(t, err, persistence.ErrRetriesExhausted)
	assert.Equal(t, int32(10), counting.updates)
	assert.Equal(t, int32(1), obs.exhausted)
	assert.Equal(t, int32(10), obs.conflicts)
	require.Len(t, pauses, 9)
	assert.Equal(t, 2*time.Second, pauses[0])
	assert.Equal(t, 10*time.Second, pauses[8])
}

func TestSaveStopsOnContextCancel(t *testing.T) {
	repo := memory.NewPositionsRepo()
	rec := seed(t, repo)
	counting := &countingRepo{PositionsRepo: repo, alwaysClash: true}
	store := persistence.NewStore(counting, persistence.WithSleep(func(context.Context, time.Duration) error {
		return context.Canceled
	}))

	_, err := store.Save(context.Background(), rec, persistence.FieldPrices)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(1), counting.updates)
}

func TestCreateRejectsActivePair(t *testing.T) {
	repo := memory.NewPositionsRepo()
	store := persistence.NewStore(repo)

	first := position.NewSelected("a", "ETHUSDT", "BTCUSDT", position.StatSnapshot{}, 1, position.StrategyParams{}, now)
	require.NoError(t, store.Create(context.Background(), first))

	second := position.NewSelected("b", "BTCUSDT", "ETHUSDT", position.StatSnapshot{}, 1, position.StrategyParams{}, now)
	assert.ErrorIs(t, store.Create(context.Background(), second), persistence.ErrPairActive)
}

func TestConcurrentCreateOpensPairOnce(t *testing.T) {
	repo := memory.NewPositionsRepo()
	store := persistence.NewStore(repo)

	var wg sync.WaitGroup
	var created int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := position.NewSelected(string(rune('a'+i)), "ETHUSDT", "BTCUSDT", position.StatSnapshot{}, 1, position.StrategyParams{}, now)
			if err := store.Create(context.Background(), rec); err == nil {
				atomic.AddInt32(&created, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), created)
}
