package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisKey is the key holding the shared call counter.
const DefaultRedisKey = "harvest:budget:used"

// acquireScript increments the counter only while it is below the ceiling.
// It returns -1 when the ceiling has been reached. The window TTL is applied
// when the key is first created so a quota can span several runs.
var acquireScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
if used >= tonumber(ARGV[1]) then
  return -1
end
local n = redis.call('INCR', KEYS[1])
if n == 1 and tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return n
`)

// RedisCounter is a Budget whose counter lives in Redis, so several harvester
// processes can share one API quota.
type RedisCounter struct {
	redis   *redis.Client
	key     string
	ceiling int
	window  time.Duration
	logger  zerolog.Logger
}

// RedisOptions configures a RedisCounter.
type RedisOptions struct {
	// Key overrides DefaultRedisKey.
	Key string

	// Window expires the counter this long after the first call. Zero keeps
	// the counter forever.
	Window time.Duration
}

// NewRedisCounter creates a Redis-backed budget.
func NewRedisCounter(redisClient *redis.Client, ceiling int, opts RedisOptions, logger zerolog.Logger) *RedisCounter {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ceiling < 0 {
		ceiling = 0
	}
	key := opts.Key
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisCounter{
		redis:   redisClient,
		key:     key,
		ceiling: ceiling,
		window:  opts.Window,
		logger:  logger,
	}
}

// Acquire reserves one call.
func (r *RedisCounter) Acquire(ctx context.Context) error {
	n, err := acquireScript.Run(ctx, r.redis, []string{r.key}, r.ceiling, r.window.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("acquire budget slot: %w", err)
	}
	if n < 0 {
		budgetExhaustedTotal.Inc()
		r.logger.Debug().Str("key", r.key).Int("ceiling", r.ceiling).Msg("Budget exhausted")
		return ErrExhausted
	}

	budgetUsed.Set(float64(n))
	budgetRemaining.Set(float64(r.ceiling - n))

	state := State{Used: n, Ceiling: r.ceiling}
	if state.IsLow() {
		r.logger.Warn().Int("used", n).Int("ceiling", r.ceiling).Msg("Request budget running low")
	}
	return nil
}

// State reads the counter from Redis. A missing key means nothing was spent.
func (r *RedisCounter) State(ctx context.Context) (State, error) {
	used, err := r.redis.Get(ctx, r.key).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return State{}, fmt.Errorf("get budget counter: %w", err)
	}
	return State{Used: used, Ceiling: r.ceiling}, nil
}

// Ceiling returns the configured ceiling.
func (r *RedisCounter) Ceiling() int {
	return r.ceiling
}
