package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"bizops/pkg/logger"
)

// Writer persists one event. *Repository is the production writer.
type Writer interface {
	Write(ctx context.Context, ev Event) error
}

// Emitter records audit events without blocking the caller.
//
// Events are handed to a bounded ants pool in non-blocking mode: when every worker is busy the
// event is dropped and logged. Write failures and timeouts are logged and never returned.
type Emitter struct {
	writer  Writer
	pool    *ants.Pool
	timeout time.Duration
}

func NewEmitter(w Writer, workers int, timeout time.Duration) (*Emitter, error) {
	if workers <= 0 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithExpiryDuration(10*time.Second),
		ants.WithPanicHandler(func(p any) {
			logger.Error("audit worker panic recovered", zap.Any("panic", p), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit pool: %w", err)
	}
	return &Emitter{writer: w, pool: pool, timeout: timeout}, nil
}

// Record queues ev for writing and returns immediately.
// The write runs detached from ctx so a finished request does not cancel it.
func (e *Emitter) Record(ctx context.Context, ev Event) {
	if e == nil || e.writer == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = newID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	detached := context.WithoutCancel(ctx)
	err := e.pool.Submit(func() {
		wctx, cancel := context.WithTimeout(detached, e.timeout)
		defer cancel()
		if err := e.writer.Write(wctx, ev); err != nil {
			logger.Warn("audit write failed",
				zap.String("action", ev.Action),
				zap.String("resource_type", ev.ResourceType),
				zap.String("resource_id", ev.ResourceID),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		logger.Warn("audit event dropped",
			zap.String("action", ev.Action),
			zap.String("resource_id", ev.ResourceID),
			zap.Error(err),
		)
	}
}

// Close waits up to timeout for queued writes, then releases the pool.
func (e *Emitter) Close(timeout time.Duration) error {
	if e == nil || e.pool == nil {
		return nil
	}
	return e.pool.ReleaseTimeout(timeout)
}
