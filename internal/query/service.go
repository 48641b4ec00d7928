// Package query talks to the indexed query service: a SQL-capable catalog
// of the offline store used for validation counts and for narrowing the
// partition set. Statements are submitted asynchronously and polled.
package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vexsearch/offstore/internal/metrics"
)

// State is the lifecycle state of a submitted statement.
type State string

const (
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Row is one result row keyed by column label.
type Row map[string]any

// Status is the state of a statement and, when failed, the reason.
type Status struct {
	State  State
	Reason string
}

// Service is the indexed query service.
type Service interface {
	Submit(ctx context.Context, sql string, args ...any) (string, error)
	Poll(ctx context.Context, id string) (Status, error)
	Fetch(ctx context.Context, id string) ([]Row, error)
	Cancel(ctx context.Context, id string) error
}

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxWait      = 5 * time.Minute
)

// Poller runs statements to completion with a fixed poll interval and a
// maximum wait.
type Poller struct {
	Service  Service
	Interval time.Duration
	MaxWait  time.Duration
}

// Run submits sql, waits for it and returns its rows. purpose labels
// metrics ("validation", "prune").
func (p *Poller) Run(ctx context.Context, purpose, sql string, args ...any) (rows []Row, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveQuery(purpose, time.Since(start).Seconds(), err)
	}()

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxWait := p.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}

	id, err := p.Service.Submit(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: submit: %w", ErrQueryFailed, err)
	}

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := p.Service.Poll(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: poll %s: %w", ErrQueryFailed, id, err)
		}
		switch st.State {
		case StateSucceeded:
			return p.Service.Fetch(ctx, id)
		case StateFailed, StateCancelled:
			return nil, fmt.Errorf("%w: %s %s: %s", ErrQueryFailed, id, strings.ToLower(string(st.State)), st.Reason)
		}

		select {
		case <-ctx.Done():
			_ = p.Service.Cancel(context.WithoutCancel(ctx), id)
			return nil, ctx.Err()
		case <-deadline.C:
			_ = p.Service.Cancel(ctx, id)
			return nil, fmt.Errorf("%w: %s after %s", ErrQueryTimeout, id, maxWait)
		case <-ticker.C:
		}
	}
}

// Count runs a statement whose first row carries a count in column.
func (p *Poller) Count(ctx context.Context, purpose, column, sql string, args ...any) (int64, error) {
	rows, err := p.Run(ctx, purpose, sql, args...)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, ErrEmptyResult
	}
	return ToInt64(rows[0][column])
}

// ToInt64 converts a driver value to an integer. Some drivers return
// numbers as text.
func ToInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	case nil:
		return 0, ErrEmptyResult
	}
	return 0, fmt.Errorf("unexpected count type %T", v)
}
