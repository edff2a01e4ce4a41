package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pairsrun/internal/domain/position"
	"github.com/sawpanic/pairsrun/internal/persistence"
)

func newRecord(id, long, short string, created time.Time) *position.Record {
	return position.NewSelected(id, long, short, position.StatSnapshot{}, 10, position.StrategyParams{}, created)
}

func TestPositionsRepo_CreateSelected(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("pair exclusion ignores ticker order", func(t *testing.T) {
		repo := NewPositionsRepo()
		require.NoError(t, repo.CreateSelected(ctx, newRecord("a", "ETH", "BTC", base)))
		err := repo.CreateSelected(ctx, newRecord("b", "btc", "eth", base))
		assert.ErrorIs(t, err, persistence.ErrPairActive)
	})

	t.Run("closed pair can be selected again", func(t *testing.T) {
		repo := NewPositionsRepo()
		rec := newRecord("a", "ETH", "BTC", base)
		require.NoError(t, repo.CreateSelected(ctx, rec))
		rec.Status = position.StatusClosed
		_, err := repo.UpdateIfVersion(ctx, rec, 1)
		require.NoError(t, err)
		assert.NoError(t, repo.CreateSelected(ctx, newRecord("b", "ETH", "BTC", base)))
	})

	t.Run("rejects non selected status", func(t *testing.T) {
		repo := NewPositionsRepo()
		rec := newRecord("a", "ETH", "BTC", base)
		rec.Status = position.StatusTrading
		assert.Error(t, repo.CreateSelected(ctx, rec))
	})
}

func TestPositionsRepo_UpdateIfVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewPositionsRepo()
	rec := newRecord("a", "ETH", "BTC", time.Now())
	require.NoError(t, repo.Insert(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)

	v, err := repo.UpdateIfVersion(ctx, rec, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = repo.UpdateIfVersion(ctx, rec, 1)
	assert.ErrorIs(t, err, persistence.ErrVersionConflict)

	_, err = repo.UpdateIfVersion(ctx, &position.Record{ID: "missing"}, 1)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestPositionsRepo_SecondTradingPairRejected(t *testing.T) {
	ctx := context.Background()
	repo := NewPositionsRepo()

	a := newRecord("a", "ETH", "BTC", time.Now())
	a.Status = position.StatusTrading
	require.NoError(t, repo.Insert(ctx, a))

	b := newRecord("b", "ETH", "BTC", time.Now())
	b.Status = position.StatusObserved
	require.NoError(t, repo.Insert(ctx, b))

	b.Status = position.StatusTrading
	_, err := repo.UpdateIfVersion(ctx, b, 1)
	assert.ErrorIs(t, err, persistence.ErrPairActive)
}

func TestPositionsRepo_ListAndActiveKeys(t *testing.T) {
	ctx := context.Background()
	repo := NewPositionsRepo()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	first := newRecord("z", "ETH", "BTC", base)
	second := newRecord("a", "SOL", "ADA", base.Add(time.Minute))
	closed := newRecord("c", "XRP", "DOGE", base)
	closed.Status = position.StatusClosed
	for _, r := range []*position.Record{second, first, closed} {
		require.NoError(t, repo.Insert(ctx, r))
	}

	list, err := repo.ListByStatus(ctx, position.StatusSelected)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "z", list[0].ID)
	assert.Equal(t, "a", list[1].ID)

	all, err := repo.ListByStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	keys, err := repo.ActivePairKeys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, position.PairKey("ETH", "BTC"))
	assert.Contains(t, keys, position.PairKey("SOL", "ADA"))
	assert.NotContains(t, keys, position.PairKey("XRP", "DOGE"))

	require.NoError(t, repo.Delete(ctx, "c"))
	assert.ErrorIs(t, repo.Delete(ctx, "c"), persistence.ErrNotFound)
}

func TestPositionsRepo_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewPositionsRepo()
	rec := newRecord("a", "ETH", "BTC", time.Now())
	require.NoError(t, repo.Insert(ctx, rec))

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	got.Score = 999

	again, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 10.0, again.Score)
}
