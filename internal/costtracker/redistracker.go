package costtracker

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// redisCumulativeKey is the Redis hash holding lifetime usage counters,
// persisted the way the teacher gateway persists its own counters via
// Redis-backed collaborators (internal/cache, internal/ratelimit).
const redisCumulativeKey = "costtracker:cumulative"

// RedisTracker is a Tracker whose cumulative totals survive process
// restarts, backed by a Redis hash incremented atomically with HINCRBY.
// Within-cycle totals and the admission ceiling remain process-local,
// matching spec.md §3's "health counters are in-memory; only usage totals
// persist" split.
type RedisTracker struct {
	rdb     *redis.Client
	ceiling int64

	mu    sync.Mutex
	cycle Totals
}

// NewRedisTracker creates a RedisTracker. ceiling is the maximum total
// tokens admitted within the current process's cycle; 0 means unlimited.
func NewRedisTracker(rdb *redis.Client, ceiling int64) *RedisTracker {
	return &RedisTracker{rdb: rdb, ceiling: ceiling}
}

func (t *RedisTracker) EstimateTokenUsage(_, text string) Estimate {
	tokens := t.EstimateTokensFromText(text)
	return Estimate{PromptTokens: tokens, CompletionTokens: 0, TotalTokens: tokens}
}

func (t *RedisTracker) EstimateTokensFromText(text string) int64 {
	n := int64(len(text)) / charsPerToken
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

func (t *RedisTracker) CanSpend(tokens int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ceiling == 0 {
		return true
	}
	return t.cycle.TotalTokens+tokens <= t.ceiling
}

func (t *RedisTracker) Record(ctx context.Context, _ string, promptTokens, completionTokens int64, _ RecordMetadata) (int64, error) {
	total := promptTokens + completionTokens

	t.mu.Lock()
	t.cycle.PromptTokens += promptTokens
	t.cycle.CompletionTokens += completionTokens
	t.cycle.TotalTokens += total
	t.mu.Unlock()

	pipe := t.rdb.Pipeline()
	pipe.HIncrBy(ctx, redisCumulativeKey, "prompt_tokens", promptTokens)
	pipe.HIncrBy(ctx, redisCumulativeKey, "completion_tokens", completionTokens)
	pipe.HIncrBy(ctx, redisCumulativeKey, "total_tokens", total)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	return total, nil
}

func (t *RedisTracker) GetUsageTotals(_ context.Context) (Totals, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cycle, nil
}

func (t *RedisTracker) GetCumulativeTotals(ctx context.Context) (Totals, error) {
	vals, err := t.rdb.HGetAll(ctx, redisCumulativeKey).Result()
	if err != nil {
		return Totals{}, err
	}
	return Totals{
		PromptTokens:     parseInt64(vals["prompt_tokens"]),
		CompletionTokens: parseInt64(vals["completion_tokens"]),
		TotalTokens:      parseInt64(vals["total_tokens"]),
	}, nil
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

var _ Tracker = (*RedisTracker)(nil)
