package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/resilience"
)

// ErrQueueClosed is returned by Publish after Close.
var ErrQueueClosed = eris.New("orchestrator: queue closed")

// HandlerFunc consumes one message.
type HandlerFunc func(ctx context.Context, msg StageAdvanced) error

// MemoryQueue is an in-process transport: a bounded buffer drained by an
// ants worker pool. Publish never blocks; when the buffer is full the
// message is dropped and counted.
type MemoryQueue struct {
	ch      chan StageAdvanced
	pool    *ants.Pool
	retry   resilience.RetryConfig
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewMemoryQueue returns a queue holding up to size messages, handled by
// up to concurrency workers. Each message gets retry's attempts.
func NewMemoryQueue(size, concurrency int, retry resilience.RetryConfig) (*MemoryQueue, error) {
	if size < 1 {
		size = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: create worker pool")
	}
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
	}
	return &MemoryQueue{
		ch:    make(chan StageAdvanced, size),
		pool:  pool,
		retry: retry,
	}, nil
}

// Publish enqueues msg without blocking.
func (q *MemoryQueue) Publish(_ context.Context, msg StageAdvanced) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		q.dropped.Add(1)
		zap.L().Warn("orchestrator: queue full, dropping message",
			zap.String("stage", string(msg.Step)),
			zap.String("workspace_id", msg.WorkspaceID),
			zap.Int("capacity", cap(q.ch)),
		)
		return nil
	}
}

// Dropped reports how many messages Publish has discarded.
func (q *MemoryQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Len reports the number of buffered messages.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Run feeds buffered messages to handler until ctx is done or the queue is
// closed, then waits for in-flight handlers.
func (q *MemoryQueue) Run(ctx context.Context, handler HandlerFunc) error {
	defer q.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-q.ch:
			if !ok {
				return nil
			}
			q.wg.Add(1)
			err := q.pool.Submit(func() {
				defer q.wg.Done()
				q.handle(ctx, handler, msg)
			})
			if err != nil {
				q.wg.Done()
				return eris.Wrap(err, "orchestrator: submit message")
			}
		}
	}
}

func (q *MemoryQueue) handle(ctx context.Context, handler HandlerFunc, msg StageAdvanced) {
	retry := q.retry
	retry.OnRetry = func(attempt int, err error) {
		zap.L().Warn("orchestrator: retrying message",
			zap.String("stage", string(msg.Step)),
			zap.String("workspace_id", msg.WorkspaceID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	if err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		return handler(ctx, msg)
	}); err != nil && ctx.Err() == nil {
		zap.L().Error("orchestrator: message failed",
			zap.String("stage", string(msg.Step)),
			zap.String("workspace_id", msg.WorkspaceID),
			zap.Error(err),
		)
	}
}

// Close stops accepting messages and releases the pool once in-flight
// handlers finish or timeout passes.
func (q *MemoryQueue) Close(timeout time.Duration) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	return eris.Wrap(q.pool.ReleaseTimeout(timeout), "orchestrator: release worker pool")
}
