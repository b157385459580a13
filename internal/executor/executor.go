// Package executor opens the configured database engine and runs
// translated statements against resource tables. It carries no SQL
// semantics of its own: the translator decides what to run, the dialect
// decides how to phrase it, the executor only moves rows.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	_ "github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fhirql/fhirql/internal/cte"
	"github.com/fhirql/fhirql/internal/dialect"
)

// Executor wraps one engine connection. Safe for sequential use; callers
// needing concurrency open one Executor per goroutine.
type Executor struct {
	db *sql.DB
	d  dialect.Dialect
}

// Result is the outcome of one statement execution. RunID correlates the
// execution in logs and CLI output; it never appears inside the SQL, which
// stays deterministic for a given expression.
type Result struct {
	RunID   string       `json:"run_id"`
	Columns []cte.Column `json:"columns"`
	Rows    [][]any      `json:"rows"`
}

// Open connects to the engine named by the dialect registry (duckdb,
// postgres, sqlite) using the given DSN and verifies the connection.
func Open(engine, dsn string) (*Executor, error) {
	d, err := dialect.ForEngine(engine)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverFor(engine), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", engine, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s database: %w", engine, err)
	}

	if engine == "sqlite" {
		// Single connection: sqlite allows one writer, and an in-memory
		// database exists per connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
		}
	}

	slog.Debug("database opened", "engine", engine)
	return &Executor{db: db, d: d}, nil
}

// Close releases the underlying connection pool.
func (e *Executor) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

// Dialect returns the dialect matching the opened engine, for callers that
// translate and execute against the same connection.
func (e *Executor) Dialect() dialect.Dialect { return e.d }

// DB exposes the underlying pool for callers with needs the Executor
// methods do not cover (tests, ad-hoc DDL).
func (e *Executor) DB() *sql.DB { return e.db }

// Run executes an assembled statement and materializes all rows. Engine
// failures propagate unwrapped apart from context: a failing translated
// statement is a bug upstream, not a transient condition, so there are no
// retries.
func (e *Executor) Run(ctx context.Context, stmt *cte.Statement) (*Result, error) {
	slog.Debug("executing statement", "columns", len(stmt.Columns), "sql_bytes", len(stmt.SQL))
	rows, err := e.db.QueryContext(ctx, stmt.SQL)
	if err != nil {
		return nil, fmt.Errorf("execute statement: %w", err)
	}
	defer rows.Close()

	width := len(stmt.Columns)
	res := &Result{RunID: uuid.NewString(), Columns: stmt.Columns}
	for rows.Next() {
		values := make([]any, width)
		ptrs := make([]any, width)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return res, nil
}

// driverFor maps an engine name to its database/sql driver name. Engine
// names are validated by dialect.ForEngine before this is reached.
func driverFor(engine string) string {
	if engine == "sqlite" {
		return "sqlite3"
	}
	return engine
}
