package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopilot_Agent_Executor_Execute(t *testing.T) {
	t.Parallel()

	t.Run("rows", func(t *testing.T) {
		t.Parallel()
		e := NewExecutor(logger, &mockEngine{RunQueryFunc: func(context.Context, string) ([]string, []Row, error) {
			return []string{"n"}, []Row{{"n": int64(830)}}, nil
		}}, time.Second)
		got := e.Execute(context.Background(), "SELECT COUNT(*) AS n FROM Orders")
		require.True(t, got.Succeeded())
		assert.Equal(t, []Row{{"n": int64(830)}}, got.Rows)
	})

	t.Run("empty result is success", func(t *testing.T) {
		t.Parallel()
		e := NewExecutor(logger, &mockEngine{RunQueryFunc: func(context.Context, string) ([]string, []Row, error) {
			return []string{"n"}, nil, nil
		}}, time.Second)
		got := e.Execute(context.Background(), "SELECT n FROM t WHERE 1=0")
		require.True(t, got.Succeeded())
		assert.NotNil(t, got.Rows)
		assert.Empty(t, got.Rows)
	})

	t.Run("error message verbatim", func(t *testing.T) {
		t.Parallel()
		msg := `SQL logic error: no such column: o.ShipDate (1)`
		e := NewExecutor(logger, &mockEngine{RunQueryFunc: func(context.Context, string) ([]string, []Row, error) {
			return nil, nil, errors.New(msg)
		}}, time.Second)
		got := e.Execute(context.Background(), "SELECT o.ShipDate FROM Orders o")
		require.False(t, got.Succeeded())
		assert.Equal(t, ErrorKindExecutionSchema, got.Error.Kind)
		assert.Equal(t, msg, got.Error.Message)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		e := NewExecutor(logger, &mockEngine{RunQueryFunc: func(ctx context.Context, _ string) ([]string, []Row, error) {
			<-ctx.Done()
			return nil, nil, ctx.Err()
		}}, 10*time.Millisecond)
		got := e.Execute(context.Background(), "SELECT 1")
		require.False(t, got.Succeeded())
		assert.Equal(t, ErrorKindExecutionTimeout, got.Error.Kind)
	})

	t.Run("panic is captured", func(t *testing.T) {
		t.Parallel()
		e := NewExecutor(logger, &mockEngine{RunQueryFunc: func(context.Context, string) ([]string, []Row, error) {
			panic("driver bug")
		}}, time.Second)
		got := e.Execute(context.Background(), "SELECT 1")
		require.False(t, got.Succeeded())
		assert.Equal(t, ErrorKindExecutionRuntime, got.Error.Kind)
		assert.Contains(t, got.Error.Message, "driver bug")
	})

	t.Run("mutation rejected before execution", func(t *testing.T) {
		t.Parallel()
		called := false
		e := NewExecutor(logger, &mockEngine{RunQueryFunc: func(context.Context, string) ([]string, []Row, error) {
			called = true
			return nil, nil, nil
		}}, time.Second)
		got := e.Execute(context.Background(), "DELETE FROM Orders")
		require.False(t, got.Succeeded())
		assert.Equal(t, ErrorKindWriteNotAllowed, got.Error.Kind)
		assert.False(t, called)
	})
}

func TestCopilot_Agent_RejectMutation(t *testing.T) {
	t.Parallel()

	allowed := []string{
		"SELECT * FROM Orders",
		"  select 1;",
		"WITH t AS (SELECT 1 AS x) SELECT x FROM t",
		"(SELECT 1) UNION (SELECT 2)",
		"SELECT REPLACE(ProductName, 'a', 'b') FROM Products",
		"SELECT 'DROP TABLE x' AS s",
		`SELECT "Update" FROM "Order Details"`,
		"SELECT 1 -- DELETE FROM Orders",
		"EXPLAIN SELECT 1",
	}
	for _, sql := range allowed {
		assert.Empty(t, rejectMutation(sql), sql)
	}

	rejected := []string{
		"INSERT INTO Orders VALUES (1)",
		"update Products set UnitPrice = 0",
		"DROP TABLE Orders",
		"CREATE TABLE x (id INT)",
		"PRAGMA writable_schema = 1",
		"WITH d AS (DELETE FROM Orders RETURNING *) SELECT * FROM d",
		"SELECT 1; DELETE FROM Orders",
		"ATTACH DATABASE 'x.db' AS x",
		"EXPLAIN ANALYZE SELECT 1",
		"",
	}
	for _, sql := range rejected {
		assert.NotEmpty(t, rejectMutation(sql), sql)
	}
}

func TestCopilot_Agent_ClassifyExecutionError(t *testing.T) {
	t.Parallel()

	tests := map[string]ErrorKind{
		`no such table: Order`:                                             ErrorKindExecutionSchema,
		`Catalog Error: Table with name foo does not exist!`:               ErrorKindExecutionSchema,
		`Binder Error: Referenced column "x" not found in FROM clause!`:    ErrorKindExecutionSchema,
		`ERROR: column "shipdate" does not exist (SQLSTATE 42703)`:         ErrorKindExecutionSchema,
		`code: 47, message: Missing columns: 'foo' while processing query`: ErrorKindExecutionSchema,
		`near "FORM": syntax error`:                                        ErrorKindExecutionSyntax,
		`Parser Error: syntax error at or near "SELEC"`:                    ErrorKindExecutionSyntax,
		`integer divide by zero`:                                           ErrorKindExecutionRuntime,
	}
	for msg, want := range tests {
		assert.Equal(t, want, ClassifyExecutionError(msg), msg)
	}
}
