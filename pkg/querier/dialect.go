package querier

import (
	"fmt"
	"net/url"
	"strings"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectSQLite     Dialect = "sqlite"
	DialectDuckDB     Dialect = "duckdb"
	DialectPostgres   Dialect = "postgres"
	DialectClickHouse Dialect = "clickhouse"
)

// dialectSpec describes how to open and introspect one engine. Placeholders
// in describeTable are written per driver.
type dialectSpec struct {
	driver        string
	listTables    string
	describeTable string
	// fileBacked engines open a local path that must already exist.
	fileBacked bool
	// readOnlyTx wraps each query in a read-only transaction.
	readOnlyTx bool
}

var dialects = map[Dialect]dialectSpec{
	DialectSQLite: {
		driver: "sqlite",
		listTables: `SELECT name FROM sqlite_master
			WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
			ORDER BY name`,
		describeTable: `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`,
		fileBacked:    true,
	},
	DialectDuckDB: {
		driver: "duckdb",
		listTables: `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema()
			ORDER BY table_name`,
		describeTable: `SELECT column_name, data_type FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = ?
			ORDER BY ordinal_position`,
		fileBacked: true,
	},
	DialectPostgres: {
		driver: "pgx",
		listTables: `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema()
			ORDER BY table_name`,
		describeTable: `SELECT column_name, data_type FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1
			ORDER BY ordinal_position`,
		readOnlyTx: true,
	},
	DialectClickHouse: {
		driver: "clickhouse",
		listTables: `SELECT name FROM system.tables
			WHERE database = currentDatabase() AND NOT is_temporary
			ORDER BY name`,
		describeTable: `SELECT name, type FROM system.columns
			WHERE database = currentDatabase() AND table = ?
			ORDER BY position`,
	},
}

// ParseDialect accepts a dialect name or a common alias.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "duckdb":
		return DialectDuckDB, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "clickhouse", "ch":
		return DialectClickHouse, nil
	}
	return "", fmt.Errorf("unknown database driver %q", s)
}

// dataSourceName turns the configured DSN into one that opens the database
// read-only where the driver supports it.
func (d Dialect) dataSourceName(dsn string) string {
	switch d {
	case DialectSQLite:
		return "file:" + d.filePath(dsn) + "?mode=ro"
	case DialectDuckDB:
		return withParam(dsn, "access_mode", "read_only")
	case DialectClickHouse:
		// readonly=2 forbids writes but still lets the driver set session settings.
		return withParam(dsn, "readonly", "2")
	}
	return dsn
}

// filePath is the local path behind a file-backed DSN.
func (d Dialect) filePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

func withParam(dsn, key, value string) string {
	base, query, _ := strings.Cut(dsn, "?")
	params, err := url.ParseQuery(query)
	if err != nil {
		return dsn
	}
	if params.Has(key) {
		return dsn
	}
	params.Set(key, value)
	return base + "?" + params.Encode()
}
