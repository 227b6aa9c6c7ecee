package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("cache: not found")

// setMarkLua writes the hash only when the reading is newer than the cached
// one, so concurrent writers cannot move the mirror backwards.
const setMarkLua = `
local cur = redis.call('HGET', KEYS[1], 'ts')
if cur and tonumber(cur) >= tonumber(ARGV[2]) then
    return 0
end
redis.call('HSET', KEYS[1], 'price', ARGV[1], 'ts', ARGV[2])
return 1
`

// MarkPriceCache mirrors accepted index readings into Redis hashes at
// "mark:{market}" with fields "price" (1e6-scaled) and "ts" (epoch µs).
type MarkPriceCache struct {
	rdb   redis.UniversalClient
	setSc *redis.Script
}

func NewMarkPriceCache(rdb redis.UniversalClient) *MarkPriceCache {
	return &MarkPriceCache{rdb: rdb, setSc: redis.NewScript(setMarkLua)}
}

func markKey(market string) string {
	return "mark:" + market
}

// SetMark stores price at timestampUs unless a newer reading is cached.
func (c *MarkPriceCache) SetMark(ctx context.Context, market string, price, timestampUs int64) error {
	err := c.setSc.Run(ctx, c.rdb, []string{markKey(market)},
		strconv.FormatInt(price, 10), strconv.FormatInt(timestampUs, 10)).Err()
	if err != nil {
		return fmt.Errorf("redis: set mark %s: %w", market, err)
	}
	return nil
}

// GetMark returns the cached price and timestamp, or ErrNotFound.
func (c *MarkPriceCache) GetMark(ctx context.Context, market string) (int64, int64, error) {
	vals, err := c.rdb.HGetAll(ctx, markKey(market)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get mark %s: %w", market, err)
	}
	priceStr, ok := vals["price"]
	if !ok {
		return 0, 0, ErrNotFound
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return 0, 0, ErrNotFound
	}

	price, err := strconv.ParseInt(priceStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("redis: parse price %s: %w", market, err)
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("redis: parse ts %s: %w", market, err)
	}
	return price, ts, nil
}
