package sqlfed

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewFromDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestExecuteSQL(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT name, revenue FROM customers").WillReturnRows(
		sqlmock.NewRows([]string{"name", "revenue"}).
			AddRow("Acme", 100.5).
			AddRow("Globex", 42.0))

	result, err := store.ExecuteSQL(context.Background(), "SELECT name, revenue FROM customers", "", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "revenue"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "Acme", result.Rows[0][0])
}

func TestExecuteSQLRejectsWrites(t *testing.T) {
	store, _ := newMockStore(t)

	for _, stmt := range []string{
		"DELETE FROM customers",
		"DROP TABLE customers",
		"INSERT INTO customers VALUES (1)",
		"UPDATE customers SET name = 'x'",
	} {
		_, err := store.ExecuteSQL(context.Background(), stmt, "", "")
		assert.Equal(t, fault.QueryExecutionFailed, fault.KindOf(err), stmt)
	}
}

func TestExecuteSQLEmpty(t *testing.T) {
	store, _ := newMockStore(t)
	_, err := store.ExecuteSQL(context.Background(), "  ", "", "")
	assert.ErrorIs(t, err, ErrEmptySQL)
}

func TestIntrospectSchema(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT table_name, column_name").WithArgs("public").WillReturnRows(
		sqlmock.NewRows([]string{"table_name", "column_name", "data_type", "is_nullable"}).
			AddRow("orders", "id", "integer", "NO").
			AddRow("orders", "customer_id", "integer", "NO").
			AddRow("orders", "total", "numeric", "YES").
			AddRow("customers", "id", "integer", "NO").
			AddRow("customers", "name", "text", "NO"))

	tables, err := store.IntrospectSchema(context.Background(), "", "public")
	require.NoError(t, err)
	require.Len(t, tables, 2)

	// Sorted by table name.
	assert.Equal(t, "customers", tables[0].Name)
	assert.Equal(t, "orders", tables[1].Name)

	orders := tables[1]
	assert.True(t, orders.Columns[0].PrimaryKey)
	assert.Equal(t, "customer", orders.Columns[1].ForeignKey)
	assert.True(t, orders.Columns[2].Nullable)
}

func TestInferKeys(t *testing.T) {
	cols := inferKeys("orders", []Column{
		{Name: "order_id"},
		{Name: "customer_id"},
		{Name: "total"},
	})
	assert.True(t, cols[0].PrimaryKey)
	assert.Equal(t, "customer", cols[1].ForeignKey)
	assert.False(t, cols[2].PrimaryKey)
	assert.Empty(t, cols[2].ForeignKey)
}
