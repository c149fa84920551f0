package redis

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	telemetry "wellhead-monitor/internal/telemetry/domain"
)

const (
	defaultKeyPrefix = "wellhead:latest:"
	defaultTTL       = 24 * time.Hour
)

// putScript writes "<unix ms>|<value>" into the device hash only when the
// stored timestamp is older.
var putScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], ARGV[1])
if cur then
	local ts = tonumber(string.match(cur, "^(-?%d+)|"))
	if ts and ts >= tonumber(ARGV[2]) then
		return 0
	end
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2] .. "|" .. ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`)

// LatestCache keeps the newest reading per device and parameter in a redis hash.
type LatestCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option configures the cache.
type Option func(*LatestCache)

// WithTTL sets how long an idle device hash is kept.
func WithTTL(ttl time.Duration) Option {
	return func(c *LatestCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithKeyPrefix overrides the hash key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(c *LatestCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// NewLatestCache constructs a cache.
func NewLatestCache(client redis.UniversalClient, opts ...Option) (*LatestCache, error) {
	if client == nil {
		return nil, errors.New("latest cache: nil redis client")
	}
	cache := &LatestCache{client: client, prefix: defaultKeyPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		opt(cache)
	}
	return cache, nil
}

// Put implements telemetry.LatestCache.
func (c *LatestCache) Put(ctx context.Context, reading telemetry.Reading) error {
	return putScript.Run(ctx, c.client,
		[]string{c.prefix + reading.DeviceID},
		reading.ParameterCode,
		reading.TS.UnixMilli(),
		strconv.FormatFloat(reading.Value, 'g', -1, 64),
		c.ttl.Milliseconds(),
	).Err()
}

// Latest implements telemetry.LatestCache.
func (c *LatestCache) Latest(ctx context.Context, deviceID string) ([]telemetry.LatestValue, error) {
	fields, err := c.client.HGetAll(ctx, c.prefix+deviceID).Result()
	if err != nil {
		return nil, err
	}
	result := make([]telemetry.LatestValue, 0, len(fields))
	for code, raw := range fields {
		value, ok := decodeEntry(code, raw)
		if !ok {
			continue
		}
		result = append(result, value)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ParameterCode < result[j].ParameterCode })
	return result, nil
}

func decodeEntry(code, raw string) (telemetry.LatestValue, bool) {
	tsPart, valuePart, found := strings.Cut(raw, "|")
	if !found {
		return telemetry.LatestValue{}, false
	}
	ms, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return telemetry.LatestValue{}, false
	}
	value, err := strconv.ParseFloat(valuePart, 64)
	if err != nil {
		return telemetry.LatestValue{}, false
	}
	return telemetry.LatestValue{ParameterCode: code, Value: value, TS: time.UnixMilli(ms).UTC()}, true
}
