package transfers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/opsledger/internal/observability"
	"github.com/odyssey-erp/opsledger/internal/platform/httpx"
	"github.com/odyssey-erp/opsledger/internal/shared"
)

// Handler exposes the transfer workflow over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	metrics *observability.Metrics
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, metrics: metrics}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequireActor)
		r.Post("/", h.create)
		r.Post("/{id}/approve", h.transition("transfers.approve", h.service.Approve))
		r.Post("/{id}/complete", h.transition("transfers.complete", h.service.Complete))
		r.Post("/{id}/cancel", h.transition("transfers.cancel", h.service.Cancel))
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req CreateInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.ActorID = actor.ID
	t, err := h.service.Create(r.Context(), req)
	h.metrics.ObserveOperation("transfers.create", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

type transitionFunc func(ctx context.Context, id int64, actor shared.Actor) (Transfer, error)

func (h *Handler) transition(operation string, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := shared.ActorFromContext(r.Context())
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		t, err := fn(r.Context(), id, actor)
		h.metrics.ObserveOperation(operation, err)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, t)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.List(r.Context(), Filter{Status: Status(r.URL.Query().Get("status")), BranchID: branchID})
	if err != nil {
		h.logger.Error("list transfers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}
