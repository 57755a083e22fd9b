package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// Client wraps a Redis connection for presence, rate limiting and job locks.
type Client struct {
	rdb *goredis.Client
}

// NewClient creates a Redis client from a URL and verifies the connection.
func NewClient(redisURL string) (*Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis URL")
	}
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "connecting to redis")
	}
	return &Client{rdb: rdb}, nil
}

// Wrap adapts an existing go-redis client.
func Wrap(rdb *goredis.Client) *Client {
	return &Client{rdb: rdb}
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

const (
	presencePrefix = "presence:"
	lastSeenPrefix = "presence:seen:"
	overridePrefix = "presence:override:"
	lockPrefix     = "lock:"

	// A heartbeat status lapses if the client stops beating.
	presenceTTL = 5 * time.Minute
	lastSeenTTL = 30 * 24 * time.Hour
)

// Heartbeat is everything the gateway keeps about one user.
type Heartbeat struct {
	Status         string
	LastSeen       *time.Time
	OverrideState  string
	OverrideExpiry *time.Time
}

// SetPresence records a heartbeat status and stamps last-seen.
func (c *Client) SetPresence(ctx context.Context, uid, status string, at time.Time) error {
	_, err := c.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, presencePrefix+uid, status, presenceTTL)
		p.Set(ctx, lastSeenPrefix+uid, at.UnixMilli(), lastSeenTTL)
		return nil
	})
	return errors.Wrap(err, "setting presence")
}

// DeletePresence drops the heartbeat status; last-seen is kept.
func (c *Client) DeletePresence(ctx context.Context, uid string) error {
	return errors.Wrap(c.rdb.Del(ctx, presencePrefix+uid).Err(), "deleting presence")
}

// SetOverride stores a manual presence state until expiry.
func (c *Client) SetOverride(ctx context.Context, uid, state string, expiry time.Time) error {
	ttl := time.Until(expiry)
	if ttl <= 0 {
		return c.ClearOverride(ctx, uid)
	}
	key := overridePrefix + uid
	_, err := c.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, key, "state", state, "expires", expiry.UnixMilli())
		p.PExpire(ctx, key, ttl)
		return nil
	})
	return errors.Wrap(err, "setting presence override")
}

// ClearOverride removes any manual presence state.
func (c *Client) ClearOverride(ctx context.Context, uid string) error {
	return errors.Wrap(c.rdb.Del(ctx, overridePrefix+uid).Err(), "clearing presence override")
}

// GetHeartbeat reads status, last-seen and override in one round trip.
// Missing keys leave the corresponding fields empty.
func (c *Client) GetHeartbeat(ctx context.Context, uid string) (Heartbeat, error) {
	var (
		status   *goredis.StringCmd
		seen     *goredis.StringCmd
		override *goredis.MapStringStringCmd
	)
	_, err := c.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		status = p.Get(ctx, presencePrefix+uid)
		seen = p.Get(ctx, lastSeenPrefix+uid)
		override = p.HGetAll(ctx, overridePrefix+uid)
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return Heartbeat{}, errors.Wrap(err, "reading presence")
	}

	var hb Heartbeat
	hb.Status, _ = status.Result()
	if v, err := seen.Int64(); err == nil {
		t := time.UnixMilli(v).UTC()
		hb.LastSeen = &t
	}
	if fields, err := override.Result(); err == nil && fields["state"] != "" {
		hb.OverrideState = fields["state"]
		if ms, err := strconv.ParseInt(fields["expires"], 10, 64); err == nil {
			t := time.UnixMilli(ms).UTC()
			hb.OverrideExpiry = &t
		}
	}
	return hb, nil
}

// rateLimitScript atomically increments a counter, sets its TTL on first use
// and returns the count and the remaining window in milliseconds.
var rateLimitScript = goredis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

// CheckRateLimit applies a fixed-window counter. It reports whether the
// request is allowed, the count so far and the window's remaining
// milliseconds.
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int64, int64, error) {
	res, err := rateLimitScript.Run(ctx, c.rdb, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, 0, errors.Wrap(err, "checking rate limit")
	}
	if len(res) != 2 {
		return false, 0, 0, errors.Errorf("rate limit script returned %d values", len(res))
	}
	count, ttl := res[0], res[1]
	if ttl < 0 {
		ttl = window.Milliseconds()
	}
	return count <= int64(limit), count, ttl, nil
}

// releaseScript deletes a lock only if it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLock takes a named lock for ttl, tagged with token. It reports
// false if someone else holds the lock.
func (c *Client) AcquireLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockPrefix+name, token, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "acquiring lock %s", name)
	}
	return ok, nil
}

// ReleaseLock frees a lock taken with the same token.
func (c *Client) ReleaseLock(ctx context.Context, name, token string) error {
	err := releaseScript.Run(ctx, c.rdb, []string{lockPrefix + name}, token).Err()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	return errors.Wrapf(err, "releasing lock %s", name)
}
