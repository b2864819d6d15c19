// Package logger implements a non-blocking, batched attempt logger for the
// routing engine — grounded on the teacher gateway's internal/logger
// package, generalised from "one entry per proxied chat request" to "one
// entry per routing attempt" (a router may make several attempts per
// Generate call as it walks its candidate list).
//
// Entries are written to an internal buffered channel and flushed in
// batches by a background goroutine, so logging never blocks Router.Generate.
// If the channel fills up (> 10 000 entries), new entries are dropped and
// counted in DroppedLogs.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// AttemptLog records one candidate attempt the Router Orchestrator made
// during a single Generate call, spec.md §4.7's "attempt trace".
type AttemptLog struct {
	RequestID    uuid.UUID
	Provider     string
	Model        string
	Outcome      string // "success", "skipped", "auth_failed", "transient"
	SkipReason   string // set only when Outcome == "skipped"
	PromptTokens uint32
	OutputTokens uint32
	LatencyMs    uint32
	CreatedAt    time.Time
}

type Logger struct {
	ch        chan AttemptLog
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	droppedLogs int64

	baseCtx context.Context
	log     *slog.Logger
}

func New(ctx context.Context, slogger *slog.Logger) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("logger: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	l := &Logger{
		ch:      make(chan AttemptLog, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     slogger,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// Log enqueues an attempt record. Never blocks: a full channel drops the
// entry and increments DroppedLogs instead.
func (l *Logger) Log(entry AttemptLog) {
	select {
	case l.ch <- entry:
	default:
		atomic.AddInt64(&l.droppedLogs, 1)
	}
}

func (l *Logger) DroppedLogs() int64 {
	return atomic.LoadInt64(&l.droppedLogs)
}

func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]AttemptLog, 0, batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			l.log.InfoContext(ctx, "routing_attempt",
				slog.String("request_id", e.RequestID.String()),
				slog.String("provider", e.Provider),
				slog.String("model", e.Model),
				slog.String("outcome", e.Outcome),
				slog.String("skip_reason", e.SkipReason),
				slog.Uint64("prompt_tokens", uint64(e.PromptTokens)),
				slog.Uint64("output_tokens", uint64(e.OutputTokens)),
				slog.Uint64("latency_ms", uint64(e.LatencyMs)),
				slog.Time("created_at", normalizeTime(e.CreatedAt)),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-l.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush(l.baseCtx)
			}

		case <-ticker.C:
			flush(l.baseCtx)

		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush(l.baseCtx)
					}
				default:
					flush(l.baseCtx)
					return
				}
			}
		}
	}
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
