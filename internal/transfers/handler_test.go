package transfers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/opsledger/internal/observability"
	"github.com/odyssey-erp/opsledger/internal/shared"
)

func newTestRouter(t *testing.T) (http.Handler, *memoryRepo) {
	t.Helper()
	svc, repo := setup(t)
	r := chi.NewRouter()
	r.Use(shared.ActorMiddleware)
	r.Route("/transfers", NewHandler(slog.Default(), svc, observability.NewMetrics()).MountRoutes)
	return r, repo
}

func do(t *testing.T, h http.Handler, method, path, body string, actor *shared.Actor) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor != nil {
		req.Header.Set(shared.HeaderActorID, strconv.FormatInt(actor.ID, 10))
		req.Header.Set(shared.HeaderActorRole, actor.Role)
		req.Header.Set(shared.HeaderActorBranch, strconv.FormatInt(actor.BranchID, 10))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerTransferLifecycle(t *testing.T) {
	h, repo := newTestRouter(t)
	sender := &shared.Actor{ID: 3, Role: shared.RoleStaff, BranchID: branchA}

	rr := do(t, h, http.MethodPost, "/transfers/", `{"from_branch_id":1,"to_branch_id":2,"items":[{"product_id":10,"quantity":"20"}]}`, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, h, http.MethodPost, "/transfers/", `{"from_branch_id":1,"to_branch_id":2,"items":[{"product_id":10,"quantity":"20"}]}`, sender)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created Transfer
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, int64(3), created.CreatedBy)
	path := "/transfers/" + strconv.FormatInt(created.ID, 10)

	rr = do(t, h, http.MethodPost, path+"/complete", "", sender)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, h, http.MethodPost, path+"/complete", "", &receiver)
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, repo.stock.Quantity(branchB, product).Equal(dec("20")))

	rr = do(t, h, http.MethodPost, path+"/complete", "", &receiver)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"status":"completed"`)
}

func TestHandlerInsufficientStockProblem(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := do(t, h, http.MethodPost, "/transfers/", `{"from_branch_id":1,"to_branch_id":2,"items":[{"product_id":10,"quantity":"80"}]}`, &receiver)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(t, h, http.MethodPost, "/transfers/1/complete", "", &receiver)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "50", problem["available"])
	require.Equal(t, "80", problem["requested"])
}

func TestHandlerRejectsUnknownFields(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := do(t, h, http.MethodPost, "/transfers/", `{"from":1}`, &receiver)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
