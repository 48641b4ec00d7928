package query

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/snowflakedb/gosnowflake"
	_ "modernc.org/sqlite"

	"github.com/vexsearch/offstore/internal/config"
)

// driverNames maps configured driver names to database/sql driver names.
var driverNames = map[string]string{
	"sqlite":    "sqlite",
	"pgx":       "pgx",
	"postgres":  "pgx",
	"snowflake": "snowflake",
}

type execution struct {
	cancel context.CancelFunc
	done   chan struct{}

	// Written once before done is closed.
	state  State
	reason string
	rows   []Row
}

// SQLService runs statements on a database/sql connection pool. Submit
// starts the statement in the background and returns a uuid that Poll and
// Fetch accept.
type SQLService struct {
	db      *sqlx.DB
	key     string
	limiter *ExecutionLimiter

	mu    sync.Mutex
	execs map[string]*execution
}

// Open connects to the configured query service and verifies the
// connection.
func Open(ctx context.Context, cfg config.QueryConfig) (*SQLService, error) {
	name, ok := driverNames[strings.ToLower(cfg.Driver)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
	db, err := sqlx.Open(name, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("query: open %s: %w", name, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("query: ping %s: %w", name, err)
	}
	return NewSQLService(db, cfg.Database), nil
}

// NewSQLService wraps an open connection. key partitions the execution
// limiter; it is usually the database name.
func NewSQLService(db *sqlx.DB, key string) *SQLService {
	return &SQLService{
		db:      db,
		key:     key,
		limiter: NewExecutionLimiter(DefaultExecutionLimit),
		execs:   make(map[string]*execution),
	}
}

// DB returns the underlying connection.
func (s *SQLService) DB() *sqlx.DB {
	return s.db
}

// Close releases the connection pool.
func (s *SQLService) Close() error {
	return s.db.Close()
}

// Submit starts sql in the background. Placeholders are written as '?' and
// rebound for the driver.
func (s *SQLService) Submit(ctx context.Context, sql string, args ...any) (string, error) {
	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ex := &execution{cancel: cancel, done: make(chan struct{}), state: StateRunning}

	s.mu.Lock()
	s.execs[id] = ex
	s.mu.Unlock()

	go s.run(runCtx, ex, s.db.Rebind(sql), args)
	return id, nil
}

func (s *SQLService) run(ctx context.Context, ex *execution, sql string, args []any) {
	defer close(ex.done)
	defer ex.cancel()

	release, err := s.limiter.Acquire(ctx, s.key)
	if err != nil {
		ex.state, ex.reason = StateCancelled, err.Error()
		return
	}
	defer release()

	rows, err := s.query(ctx, sql, args)
	switch {
	case ctx.Err() != nil:
		ex.state, ex.reason = StateCancelled, ctx.Err().Error()
	case err != nil:
		ex.state, ex.reason = StateFailed, err.Error()
	default:
		ex.state, ex.rows = StateSucceeded, rows
	}
}

func (s *SQLService) query(ctx context.Context, sql string, args []any) ([]Row, error) {
	rs, err := s.db.QueryxContext(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []Row
	for rs.Next() {
		m := make(map[string]any)
		if err := rs.MapScan(m); err != nil {
			return nil, err
		}
		row := make(Row, len(m))
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[strings.ToLower(k)] = v
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

func (s *SQLService) lookup(id string) (*execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.execs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuery, id)
	}
	return ex, nil
}

// Poll returns the current state of a statement.
func (s *SQLService) Poll(ctx context.Context, id string) (Status, error) {
	ex, err := s.lookup(id)
	if err != nil {
		return Status{}, err
	}
	select {
	case <-ex.done:
		return Status{State: ex.state, Reason: ex.reason}, nil
	default:
		return Status{State: StateRunning}, nil
	}
}

// Fetch returns the rows of a succeeded statement and forgets it.
func (s *SQLService) Fetch(ctx context.Context, id string) ([]Row, error) {
	ex, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-ex.done:
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotFinished, id)
	}
	if ex.state != StateSucceeded {
		return nil, fmt.Errorf("%w: %s: %s", ErrQueryFailed, id, ex.reason)
	}
	s.forget(id)
	return ex.rows, nil
}

// Cancel stops a running statement. Cancelling a finished statement only
// releases it.
func (s *SQLService) Cancel(ctx context.Context, id string) error {
	ex, err := s.lookup(id)
	if err != nil {
		return err
	}
	ex.cancel()
	<-ex.done
	s.forget(id)
	return nil
}

func (s *SQLService) forget(id string) {
	s.mu.Lock()
	delete(s.execs, id)
	s.mu.Unlock()
}

// QuoteIdent quotes a possibly dotted identifier for use in SQL text.
func QuoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}
