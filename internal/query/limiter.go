package query

import (
	"context"
	"sync"
)

// DefaultExecutionLimit is the maximum number of statements executing
// against one table at a time.
const DefaultExecutionLimit = 4

// ExecutionLimiter bounds concurrent statement execution per table. Callers
// over the limit wait for a slot or for their context to end.
type ExecutionLimiter struct {
	mu    sync.Mutex
	limit int
	slots map[string]chan struct{}
}

// NewExecutionLimiter returns a limiter allowing limit concurrent
// executions per table; limit <= 0 selects DefaultExecutionLimit.
func NewExecutionLimiter(limit int) *ExecutionLimiter {
	if limit <= 0 {
		limit = DefaultExecutionLimit
	}
	return &ExecutionLimiter{limit: limit, slots: make(map[string]chan struct{})}
}

// Acquire blocks until a slot for table is free. The returned release
// must be called exactly once.
func (l *ExecutionLimiter) Acquire(ctx context.Context, table string) (release func(), err error) {
	ch := l.slot(table)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Active returns the number of executions holding a slot for table.
func (l *ExecutionLimiter) Active(table string) int {
	l.mu.Lock()
	ch, ok := l.slots[table]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	return len(ch)
}

func (l *ExecutionLimiter) Limit() int {
	return l.limit
}

func (l *ExecutionLimiter) slot(table string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[table]
	if !ok {
		ch = make(chan struct{}, l.limit)
		l.slots[table] = ch
	}
	return ch
}
