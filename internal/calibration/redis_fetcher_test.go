package calibration

import (
	"context"
	"errors"
	"testing"
	"time"

	commonredis "xhale-breath/common/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupCachedFetcher(t *testing.T) (*miniredis.Miniredis, *fakeFetcher, *RedisCachedFetcher) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	next := newFakeFetcher()
	fetcher := NewRedisCachedFetcher(next, commonredis.NewRedisKVStore(client), "xhale:calibration:", time.Hour, zap.NewNop())
	return mr, next, fetcher
}

func TestRedisCachedFetcher_ReadThrough(t *testing.T) {
	mr, next, fetcher := setupCachedFetcher(t)
	next.results["D92EC0CB"] = &DeviceCalibration{SerialPrefix: "D92EC0CB", GainRawPerPpm: 0.72, TauSec: 19.5, DeadSec: 4}
	ctx := context.Background()

	cal, err := fetcher.FetchCalibration(ctx, "D92EC0CB")
	require.NoError(t, err)
	require.NotNil(t, cal)
	assert.True(t, mr.Exists("xhale:calibration:D92EC0CB"))
	assert.Equal(t, time.Hour, mr.TTL("xhale:calibration:D92EC0CB"))

	cal, err = fetcher.FetchCalibration(ctx, "D92EC0CB")
	require.NoError(t, err)
	assert.Equal(t, 0.72, cal.GainRawPerPpm)
	assert.Equal(t, 1, next.callCount("D92EC0CB"))
}

func TestRedisCachedFetcher_NegativeCaching(t *testing.T) {
	mr, next, fetcher := setupCachedFetcher(t)
	ctx := context.Background()

	cal, err := fetcher.FetchCalibration(ctx, "ABCDEFGH")
	require.NoError(t, err)
	assert.Nil(t, cal)

	val, err := mr.Get("xhale:calibration:ABCDEFGH")
	require.NoError(t, err)
	assert.Equal(t, "null", val)

	cal, err = fetcher.FetchCalibration(ctx, "ABCDEFGH")
	require.NoError(t, err)
	assert.Nil(t, cal)
	assert.Equal(t, 1, next.callCount("ABCDEFGH"))
}

func TestRedisCachedFetcher_ErrorsAreNotCached(t *testing.T) {
	mr, next, fetcher := setupCachedFetcher(t)
	next.setErr("ABCDEFGH", errors.New("upstream down"))

	_, err := fetcher.FetchCalibration(context.Background(), "ABCDEFGH")
	assert.Error(t, err)
	assert.False(t, mr.Exists("xhale:calibration:ABCDEFGH"))
}

func TestRedisCachedFetcher_RedisDownFallsThrough(t *testing.T) {
	mr, next, fetcher := setupCachedFetcher(t)
	next.results["D92EC0CB"] = &DeviceCalibration{SerialPrefix: "D92EC0CB", GainRawPerPpm: 0.72, TauSec: 19.5}
	mr.Close()

	cal, err := fetcher.FetchCalibration(context.Background(), "D92EC0CB")
	require.NoError(t, err)
	assert.Equal(t, 0.72, cal.GainRawPerPpm)
}

func TestCache_InvalidateDropsRedisCopy(t *testing.T) {
	mr, next, fetcher := setupCachedFetcher(t)
	next.results["D92EC0CB"] = &DeviceCalibration{SerialPrefix: "D92EC0CB", GainRawPerPpm: 0.72, TauSec: 19.5, DeadSec: 4}
	cache := NewCache(fetcher, 0, zap.NewNop())
	ctx := context.Background()

	require.True(t, cache.EnsureFetched(ctx, "d92e-c0cb-77"))
	cache.Wait()
	require.Equal(t, 0.72, cache.Coefficients("d92e-c0cb-77").GainRawPerPpm)

	next.mu.Lock()
	next.results["D92EC0CB"] = &DeviceCalibration{SerialPrefix: "D92EC0CB", GainRawPerPpm: 0.81, TauSec: 21, DeadSec: 3}
	next.mu.Unlock()

	require.NoError(t, cache.Invalidate(ctx, "d92e-c0cb-77"))
	assert.False(t, mr.Exists("xhale:calibration:D92EC0CB"))
	assert.Nil(t, cache.Coefficients("d92e-c0cb-77"))

	require.True(t, cache.EnsureFetched(ctx, "d92e-c0cb-77"))
	cache.Wait()
	assert.Equal(t, 0.81, cache.Coefficients("d92e-c0cb-77").GainRawPerPpm)
	assert.Equal(t, 2, next.callCount("D92EC0CB"))
}

func TestCache_InvalidateRedisDown(t *testing.T) {
	mr, _, fetcher := setupCachedFetcher(t)
	cache := NewCache(fetcher, 0, zap.NewNop())
	mr.Close()

	err := cache.Invalidate(context.Background(), "D92EC0CB")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "D92EC0CB")
}
