// Package querier exposes a relational database to the agent as a schema
// accessor and a read-only query engine.
package querier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jellydator/ttlcache/v3"

	"github.com/malbeclabs/copilot/pkg/agent"
)

const (
	defaultSchemaCacheTTL = 10 * time.Minute
	defaultConnectTries   = 5

	tablesCacheKey = "\x00tables"
)

var ErrDatabaseNotFound = errors.New("database not found")

type Config struct {
	Logger *slog.Logger
	Driver Dialect
	DSN    string

	SchemaCacheTTL time.Duration
	ConnectTries   uint
	MaxOpenConns   int
}

func (cfg *Config) Validate() error {
	if cfg.Driver == "" {
		return errors.New("driver is required")
	}
	if _, ok := dialects[cfg.Driver]; !ok {
		return fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return errors.New("dsn is required")
	}
	if cfg.SchemaCacheTTL == 0 {
		cfg.SchemaCacheTTL = defaultSchemaCacheTTL
	}
	if cfg.ConnectTries == 0 {
		cfg.ConnectTries = defaultConnectTries
	}
	return nil
}

// Querier implements agent.SchemaAccessor and agent.QueryEngine over
// database/sql. It is safe for concurrent use.
type Querier struct {
	log     *slog.Logger
	db      *sql.DB
	dialect dialectSpec
	cache   *ttlcache.Cache[string, any]
}

// Open connects to the configured database, retrying the initial ping for
// network engines.
func Open(ctx context.Context, cfg Config) (*Querier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	info := dialects[cfg.Driver]

	if info.fileBacked {
		path := cfg.Driver.filePath(cfg.DSN)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, path)
			}
			return nil, fmt.Errorf("failed to stat database: %w", err)
		}
	}

	db, err := sql.Open(info.driver, cfg.Driver.dataSourceName(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if attempt > 0 && cfg.Logger != nil {
			cfg.Logger.Warn("querier: failed to ping database, retrying", "driver", cfg.Driver, "attempt", attempt)
		}
		attempt++
		if err := db.PingContext(ctx); err != nil {
			if info.fileBacked {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(cfg.ConnectTries))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, any](cfg.SchemaCacheTTL),
	)

	return &Querier{
		log:     cfg.Logger,
		db:      db,
		dialect: info,
		cache:   cache,
	}, nil
}

func (q *Querier) Close() error {
	q.cache.DeleteAll()
	return q.db.Close()
}

// ListTables returns the tables and views of the current schema.
func (q *Querier) ListTables(ctx context.Context) ([]string, error) {
	if item := q.cache.Get(tablesCacheKey); item != nil {
		return item.Value().([]string), nil
	}

	rows, err := q.db.QueryContext(ctx, q.dialect.listTables)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	q.cache.Set(tablesCacheKey, tables, ttlcache.DefaultTTL)
	return tables, nil
}

// DescribeTable returns the columns of a table in declaration order.
func (q *Querier) DescribeTable(ctx context.Context, table string) ([]agent.Column, error) {
	if item := q.cache.Get(table); item != nil {
		return item.Value().([]agent.Column), nil
	}

	rows, err := q.db.QueryContext(ctx, q.dialect.describeTable, table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}
	defer rows.Close()

	var columns []agent.Column
	for rows.Next() {
		var c agent.Column
		var typ sql.NullString
		if err := rows.Scan(&c.Name, &typ); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		c.Type = typ.String
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}

	q.cache.Set(table, columns, ttlcache.DefaultTTL)
	return columns, nil
}

// RunQuery executes a statement and returns every row. Driver errors are
// returned unwrapped so their messages reach the repair prompt verbatim.
func (q *Querier) RunQuery(ctx context.Context, query string) ([]string, []agent.Row, error) {
	if q.dialect.readOnlyTx {
		tx, err := q.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, nil, err
		}
		defer func() { _ = tx.Rollback() }()
		rows, err := tx.QueryContext(ctx, query)
		if err != nil {
			return nil, nil, err
		}
		return scanRows(rows)
	}

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]string, []agent.Row, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	out := []agent.Row{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(agent.Row, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

// normalize converts driver-specific values into JSON-friendly ones.
func normalize(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case interface{ Float64() float64 }:
		return val.Float64()
	}
	return v
}
