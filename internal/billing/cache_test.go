package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*SummaryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSummaryCache(client, time.Minute), mr
}

func TestSummaryCacheLoadsOnceThenServesFromRedis(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (Summary, error) {
		calls++
		return Summary{TotalAmountPayable: 107443}, nil
	}

	s, err := cache.Latest(ctx, 1, loader)
	require.NoError(t, err)
	require.Equal(t, float64(107443), s.TotalAmountPayable)
	require.Equal(t, 1, calls)

	s, err = cache.Latest(ctx, 1, loader)
	require.NoError(t, err)
	require.Equal(t, float64(107443), s.TotalAmountPayable)
	require.Equal(t, 1, calls)
}

func TestSummaryCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (Summary, error) {
		calls++
		return Summary{BillAmountGross: float64(calls) * 1000}, nil
	}

	_, err := cache.Latest(ctx, 7, loader)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, 7))

	s, err := cache.Latest(ctx, 7, loader)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, float64(2000), s.BillAmountGross)
}

func TestSummaryCacheLoaderError(t *testing.T) {
	cache, _ := newTestCache(t)
	boom := errors.New("boom")

	_, err := cache.Latest(context.Background(), 3, func(context.Context) (Summary, error) {
		return Summary{}, boom
	})
	require.ErrorIs(t, err, boom)
}
