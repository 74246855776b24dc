package calibration

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	commonredis "xhale-breath/common/redis"

	"go.uber.org/zap"
)

// absentMarker cached value for a device known to have no calibration
const absentMarker = "null"

// RedisCachedFetcher read-through cache in front of another Fetcher
type RedisCachedFetcher struct {
	next      Fetcher
	kv        commonredis.KVStore
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisCachedFetcher caches next's answers under keyPrefix+<serial prefix> for ttl
func NewRedisCachedFetcher(next Fetcher, kv commonredis.KVStore, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisCachedFetcher {
	return &RedisCachedFetcher{
		next:      next,
		kv:        kv,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

func (f *RedisCachedFetcher) key(prefix string) string {
	return f.keyPrefix + prefix
}

// FetchCalibration serves from Redis when possible; Redis failures fall
// through to the wrapped fetcher.
func (f *RedisCachedFetcher) FetchCalibration(ctx context.Context, prefix string) (*DeviceCalibration, error) {
	val, err := f.kv.Get(ctx, f.key(prefix))
	switch {
	case err == nil:
		if val == absentMarker {
			return nil, nil
		}
		var cal DeviceCalibration
		if uerr := json.Unmarshal([]byte(val), &cal); uerr == nil {
			return &cal, nil
		}
		f.logger.Warn("Discarding corrupt calibration cache entry", zap.String("serial_prefix", prefix))
	case !errors.Is(err, commonredis.ErrCacheMiss):
		f.logger.Warn("Calibration cache read failed", zap.String("serial_prefix", prefix), zap.Error(err))
	}

	cal, err := f.next.FetchCalibration(ctx, prefix)
	if err != nil && !errors.Is(err, ErrIncompleteDocument) {
		return nil, err
	}

	value := absentMarker
	if cal != nil {
		data, merr := json.Marshal(cal)
		if merr != nil {
			return cal, nil
		}
		value = string(data)
	}
	if serr := f.kv.Set(ctx, f.key(prefix), value, f.ttl); serr != nil {
		f.logger.Warn("Calibration cache write failed", zap.String("serial_prefix", prefix), zap.Error(serr))
	}
	return cal, err
}

// Invalidate removes the cached document of prefix
func (f *RedisCachedFetcher) Invalidate(ctx context.Context, prefix string) error {
	return f.kv.Del(ctx, f.key(prefix))
}
