package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/opsledger/internal/shared"
)

// InsufficientStockProblem extends ProblemDetail with the failing balance.
type InsufficientStockProblem struct {
	ProblemDetail
	ProductID int64  `json:"product_id"`
	BranchID  int64  `json:"branch_id"`
	Available string `json:"available"`
	Requested string `json:"requested"`
}

// RespondError maps ledger errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var stockErr *shared.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		JSON(w, http.StatusUnprocessableEntity, InsufficientStockProblem{
			ProblemDetail: ProblemDetail{
				Type:   "insufficient-stock",
				Title:  "Insufficient Stock",
				Status: http.StatusUnprocessableEntity,
				Detail: stockErr.Error(),
			},
			ProductID: stockErr.ProductID,
			BranchID:  stockErr.BranchID,
			Available: stockErr.Available.String(),
			Requested: stockErr.Requested.String(),
		})
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusForbidden, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrPersistence):
		w.Header().Set("Retry-After", "1")
		Problem(w, http.StatusServiceUnavailable, "Persistence Failure", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// RequireActor rejects requests that carry no upstream identity.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.ActorFromContext(r.Context()); !ok {
			Problem(w, http.StatusUnauthorized, "Unauthenticated", "actor identity required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IDParam parses a positive int64 chi URL parameter.
func IDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validationf("invalid %s", name)
	}
	return id, nil
}

// QueryInt64 parses an optional int64 query parameter; zero when absent.
func QueryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, shared.Validationf("invalid %s", name)
	}
	return v, nil
}

// QueryTime parses an optional RFC3339 or YYYY-MM-DD query parameter.
func QueryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, shared.Validationf("invalid %s", name)
	}
	return t, nil
}
