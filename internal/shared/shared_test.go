package shared

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestActorFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderActorID, " 42 ")
	req.Header.Set(HeaderActorRole, "Manager")
	req.Header.Set(HeaderActorBranch, "7")

	actor, ok := ActorFromRequest(req)
	require.True(t, ok)
	require.Equal(t, Actor{ID: 42, Role: RoleManager, BranchID: 7}, actor)

	req.Header.Set(HeaderActorBranch, "x")
	_, ok = ActorFromRequest(req)
	require.False(t, ok)

	_, ok = ActorFromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, ok)
}

func TestActorMiddleware(t *testing.T) {
	var seen Actor
	var found bool
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, found = ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorID, "5")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, found)
	require.Equal(t, int64(5), seen.ID)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, found)
}

func TestActorFromContextRejectsEmptyActor(t *testing.T) {
	_, ok := ActorFromContext(ContextWithActor(context.Background(), Actor{}))
	require.False(t, ok)
}

func TestInsufficientStockErrorMatches(t *testing.T) {
	err := fmt.Errorf("post order: %w", &InsufficientStockError{
		ProductID: 1, BranchID: 2, Available: decimal.NewFromInt(3), Requested: decimal.NewFromInt(5),
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	var target *InsufficientStockError
	require.ErrorAs(t, err, &target)
	require.Equal(t, "insufficient stock: product 1 at branch 2 has 3, requested 5", target.Error())
	require.False(t, IsRetryable(err))
	require.True(t, IsRetryable(fmt.Errorf("%w: timeout", ErrPersistence)))
}

func TestValidate(t *testing.T) {
	type input struct {
		BranchID int64  `validate:"required,gt=0"`
		Name     string `validate:"max=3"`
	}
	require.NoError(t, Validate(input{BranchID: 1, Name: "abc"}))

	err := Validate(input{Name: "abcd"})
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "input.BranchID failed required")
	require.Contains(t, err.Error(), "input.Name failed max")
}

func TestDecimalRules(t *testing.T) {
	require.ErrorIs(t, RequirePositive("quantity", decimal.Zero), ErrValidation)
	require.NoError(t, RequirePositive("quantity", decimal.NewFromInt(1)))
	require.ErrorIs(t, RequireNonNegative("price", decimal.NewFromInt(-1)), ErrValidation)
	require.NoError(t, RequireNonNegative("price", decimal.Zero))
	require.ErrorIs(t, RequireRange("pct", decimal.NewFromInt(101), decimal.Zero, decimal.NewFromInt(100)), ErrValidation)
	require.NoError(t, RequireRange("pct", decimal.NewFromInt(100), decimal.Zero, decimal.NewFromInt(100)))
}

type captureExec struct {
	sql  string
	args []any
	err  error
}

func (c *captureExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.sql, c.args = sql, args
	return pgconn.CommandTag{}, c.err
}

func TestAuditLoggerRecord(t *testing.T) {
	exec := &captureExec{}
	logger := NewAuditLogger(exec)

	err := logger.Record(context.Background(), AuditLog{ActorID: 3, Action: "branch_transfer:complete", Entity: "branch_transfer", EntityID: "9", Meta: map[string]any{"items": 2}})
	require.NoError(t, err)
	require.Contains(t, exec.sql, "INSERT INTO audit_logs")
	require.Equal(t, int64(3), exec.args[0])
	require.JSONEq(t, `{"items":2}`, string(exec.args[4].([]byte)))
	require.Nil(t, exec.args[5])

	require.Error(t, logger.Record(context.Background(), AuditLog{Action: "x"}))
	var nilLogger *AuditLogger
	require.Error(t, nilLogger.Record(context.Background(), AuditLog{Action: "x", Entity: "y", EntityID: "1"}))

	exec.err = errors.New("down")
	require.Error(t, logger.Record(context.Background(), AuditLog{Action: "x", Entity: "y", EntityID: "1"}))
}
