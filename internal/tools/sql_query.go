package tools

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/MimeLyc/reactagent/internal/memory"
	"github.com/MimeLyc/reactagent/pkg/log"
	"github.com/MimeLyc/reactagent/pkg/textutil"
)

const (
	SQLQueryName = "sql_query"

	defaultMaxRows = 50
	maxMaxRows     = 500
	maxCellWidth   = 200
)

var (
	leadingKeyword = regexp.MustCompile(`^(?i)\s*(select|with|explain)\b`)
	writeKeyword   = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|attach|detach|pragma|vacuum|grant|revoke|copy|into|setval|nextval)\b`)
)

// OpenSQL opens a database for the sql_query tool. driver is "sqlite" or
// "pgx" ("postgres" and "postgresql" are accepted as aliases for pgx).
func OpenSQL(driver, dsn string) (*sqlx.DB, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		driver = "sqlite"
	case "pgx", "postgres", "postgresql":
		driver = "pgx"
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return db, nil
}

// SQLQueryTool runs read-only queries against a database
type SQLQueryTool struct {
	db          *sqlx.DB
	description string
}

// NewSQLQueryTool creates the tool. schemaHint, when set, is appended to the
// description so the model knows which tables exist.
func NewSQLQueryTool(db *sqlx.DB, schemaHint string) *SQLQueryTool {
	desc := "Run a single read-only SQL query (SELECT, WITH or EXPLAIN) and return the rows as a table."
	if hint := strings.TrimSpace(schemaHint); hint != "" {
		desc += "\nAvailable schema:\n" + hint
	}
	return &SQLQueryTool{db: db, description: desc}
}

func (t *SQLQueryTool) Definition() Definition {
	return Definition{
		Name:        SQLQueryName,
		Description: t.description,
		Params: []ParamSpec{
			{Name: "query", Type: TypeString, Required: true,
				Description: "The SQL statement to run. Only one statement; no writes."},
			{Name: "max_rows", Type: TypeInteger,
				Description: "Maximum number of rows to return (default 50)."},
		},
	}
}

func (t *SQLQueryTool) Execute(ctx context.Context, params Parameters, mem memory.Sink) (Result, error) {
	query, err := params.RequireString("query")
	if err != nil {
		return ErrorResult("%v", err), nil
	}

	query, err = validateReadOnly(query)
	if err != nil {
		return ErrorResult("%v", err), nil
	}

	maxRows := params.Int("max_rows", defaultMaxRows)
	if maxRows < 1 {
		maxRows = 1
	}
	if maxRows > maxMaxRows {
		maxRows = maxMaxRows
	}

	tx, release, err := t.readOnlyTx(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	rows, err := tx.QueryxContext(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("columns: %w", err)
	}

	var (
		table     [][]string
		truncated bool
	)
	for rows.Next() {
		if len(table) == maxRows {
			truncated = true
			break
		}
		values, err := rows.SliceScan()
		if err != nil {
			return Result{}, fmt.Errorf("scan: %w", err)
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = formatCell(v)
		}
		table = append(table, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("rows: %w", err)
	}

	summary := fmt.Sprintf("%s -> %d rows", query, len(table))
	if err := mem.AddToModule(ctx, SQLQueryName, "tool", summary); err != nil {
		log.Warn("sql_query: failed to write memory: %v", err)
	}

	return Result{Content: renderTable(columns, table, truncated)}, nil
}

// readOnlyTx opens a transaction the database itself refuses to write in.
// Postgres gets a READ ONLY transaction; SQLite has none, so the connection is
// switched to query_only for the duration. release always rolls back.
func (t *SQLQueryTool) readOnlyTx(ctx context.Context) (*sqlx.Tx, func(), error) {
	if t.db.DriverName() != "sqlite" {
		tx, err := t.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, nil, fmt.Errorf("begin read-only transaction: %w", err)
		}
		return tx, func() { _ = tx.Rollback() }, nil
	}

	conn, err := t.db.Connx(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `PRAGMA query_only = ON`); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("enable query_only: %w", err)
	}
	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		resetQueryOnly(conn)
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, func() {
		_ = tx.Rollback()
		resetQueryOnly(conn)
	}, nil
}

// resetQueryOnly returns conn to the pool writable, or discards it.
func resetQueryOnly(conn *sqlx.Conn) {
	if _, err := conn.ExecContext(context.Background(), `PRAGMA query_only = OFF`); err != nil {
		log.Warn("sql_query: discarding connection stuck in query_only: %v", err)
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	_ = conn.Close()
}

// validateReadOnly accepts exactly one SELECT, WITH or EXPLAIN statement and
// returns it without a trailing semicolon.
func validateReadOnly(query string) (string, error) {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimRight(q, "; \t\n"))
	if q == "" {
		return "", fmt.Errorf("empty query")
	}
	if strings.Contains(q, ";") {
		return "", fmt.Errorf("only a single statement is allowed")
	}
	if !leadingKeyword.MatchString(q) {
		return "", fmt.Errorf("only SELECT, WITH or EXPLAIN statements are allowed")
	}
	if kw := writeKeyword.FindString(q); kw != "" {
		return "", fmt.Errorf("statement contains forbidden keyword %q", strings.ToUpper(kw))
	}
	return q, nil
}

func formatCell(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		s = "NULL"
	case []byte:
		s = string(val)
	default:
		s = fmt.Sprint(val)
	}
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", `\|`)
	return textutil.Truncate(s, maxCellWidth)
}

func renderTable(columns []string, rows [][]string, truncated bool) string {
	var b strings.Builder

	b.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	sep := make([]string, len(columns))
	for i := range sep {
		sep[i] = "---"
	}
	b.WriteString("| " + strings.Join(sep, " | ") + " |\n")
	for _, row := range rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}

	fmt.Fprintf(&b, "\n(%d rows", len(rows))
	if truncated {
		b.WriteString(", truncated")
	}
	b.WriteString(")")
	return b.String()
}
