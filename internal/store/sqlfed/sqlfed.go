// Package sqlfed provides the federated relational catalog adapter.
//
// Virtual knowledge graph (VKG) mappings resolve to SQL over this adapter.
// Catalog and schema qualification follow the Trino-style convention of
// prefixing table references; introspection reads information_schema.
package sqlfed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/purplefabric/graphrag/internal/config"
	"github.com/purplefabric/graphrag/internal/fault"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("graphrag.store.sqlfed")

// ErrEmptySQL indicates an empty statement.
var ErrEmptySQL = errors.New("empty sql statement")

// ResultSet holds the columns and rows of one query.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Column describes one table column.
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
	Nullable bool   `json:"nullable"`

	// PrimaryKey and ForeignKey are inferred from naming convention:
	// "id" is the primary key, "<table>_id" references <table>.
	PrimaryKey bool   `json:"primaryKey"`
	ForeignKey string `json:"foreignKey,omitempty"`
}

// Table describes one introspected table.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Federator is the narrow contract exposed to the orchestrator.
type Federator interface {
	ExecuteSQL(ctx context.Context, sql, catalog, schema string) (*ResultSet, error)
	IntrospectSchema(ctx context.Context, catalog, schema string) ([]Table, error)
	CheckConnection(ctx context.Context) error
}

// Store implements Federator on sqlx.
type Store struct {
	db *sqlx.DB
}

// New opens the federated endpoint connection.
func New(cfg config.SQLConfig) (*Store, error) {
	if cfg.DSN.Value() == "" {
		return nil, fault.New(fault.ConfigurationError, "sql dsn is required")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	db, err := sqlx.Open(driver, cfg.DSN.Value())
	if err != nil {
		return nil, fmt.Errorf("opening sql connection: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing handle. Used by tests.
func NewFromDB(db *sqlx.DB) *Store { return &Store{db: db} }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// CheckConnection pings the endpoint.
func (s *Store) CheckConnection(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fault.Wrap(fault.BackendUnavailable, err, "sql ping")
	}
	return nil
}

// ExecuteSQL runs a read query, optionally qualified by catalog and schema.
func (s *Store) ExecuteSQL(ctx context.Context, sqlText, catalog, schema string) (*ResultSet, error) {
	ctx, span := tracer.Start(ctx, "sqlfed.ExecuteSQL")
	defer span.End()

	sqlText = strings.TrimSpace(sqlText)
	if sqlText == "" {
		return nil, ErrEmptySQL
	}
	if err := rejectWrites(sqlText); err != nil {
		return nil, err
	}
	if qualifier := buildQualifier(catalog, schema); qualifier != "" {
		if _, err := s.db.ExecContext(ctx, "SET search_path TO "+qualifier); err != nil {
			return nil, fault.Wrap(fault.QueryExecutionFailed, err, "setting search path")
		}
	}

	rows, err := s.db.QueryxContext(ctx, sqlText)
	if err != nil {
		span.RecordError(err)
		return nil, fault.Wrap(fault.QueryExecutionFailed, err, "executing sql")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fault.Wrap(fault.SchemaMismatch, err, "reading result columns")
	}

	result := &ResultSet{Columns: columns}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, fault.Wrap(fault.SchemaMismatch, err, "scanning result row")
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.QueryExecutionFailed, err, "iterating sql rows")
	}
	span.SetAttributes(attribute.Int("rows", len(result.Rows)))
	return result, nil
}

// IntrospectSchema lists tables and columns from information_schema, with
// PK/FK inferred by naming convention.
func (s *Store) IntrospectSchema(ctx context.Context, catalog, schema string) ([]Table, error) {
	ctx, span := tracer.Start(ctx, "sqlfed.IntrospectSchema")
	defer span.End()

	if schema == "" {
		schema = "public"
	}
	query := `SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`

	rows, err := s.db.QueryxContext(ctx, query, schema)
	if err != nil {
		return nil, fault.Wrap(fault.QueryExecutionFailed, err, "introspecting schema")
	}
	defer rows.Close()

	byTable := make(map[string][]Column)
	for rows.Next() {
		var tableName, columnName, dataType, isNullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable); err != nil {
			return nil, fault.Wrap(fault.SchemaMismatch, err, "scanning schema row")
		}
		byTable[tableName] = append(byTable[tableName], Column{
			Name:     columnName,
			DataType: dataType,
			Nullable: strings.EqualFold(isNullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.QueryExecutionFailed, err, "iterating schema rows")
	}

	names := make([]string, 0, len(byTable))
	for name := range byTable {
		names = append(names, name)
	}
	sort.Strings(names)

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		tables = append(tables, Table{Name: name, Columns: inferKeys(name, byTable[name])})
	}
	return tables, nil
}

// inferKeys applies the naming convention: an "id" column is the primary
// key and "<other>_id" points at table <other> (singular or plural).
func inferKeys(table string, columns []Column) []Column {
	for i, col := range columns {
		lower := strings.ToLower(col.Name)
		switch {
		case lower == "id" || lower == table+"_id" || lower == singular(table)+"_id":
			columns[i].PrimaryKey = true
		case strings.HasSuffix(lower, "_id"):
			columns[i].ForeignKey = strings.TrimSuffix(lower, "_id")
		}
	}
	return columns
}

func singular(table string) string {
	return strings.TrimSuffix(table, "s")
}

func rejectWrites(sqlText string) error {
	first := strings.ToUpper(firstWord(sqlText))
	switch first {
	case "SELECT", "WITH", "SHOW", "DESCRIBE", "EXPLAIN":
		return nil
	default:
		return fault.New(fault.QueryExecutionFailed, "only read statements are allowed, got %s", first)
	}
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func buildQualifier(catalog, schema string) string {
	switch {
	case schema != "":
		return quoteIdent(schema)
	case catalog != "":
		return quoteIdent(catalog)
	default:
		return ""
	}
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, ``) + `"`
}
