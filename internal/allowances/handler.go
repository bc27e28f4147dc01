package allowances

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/opsledger/internal/observability"
	"github.com/odyssey-erp/opsledger/internal/platform/httpx"
)

// Handler exposes allowances over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	metrics *observability.Metrics
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, metrics: metrics}
}

// MountRoutes registers allowance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequireActor)
		r.Post("/", h.create)
		r.Post("/{id}/items", h.addItems)
	})
}

type itemsRequest struct {
	Items []ItemInput `json:"items"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, err := h.service.CreateAllowance(r.Context(), req)
	h.metrics.ObserveOperation("allowances.create", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) addItems(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req itemsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, err := h.service.AddItems(r.Context(), id, req.Items)
	h.metrics.ObserveOperation("allowances.add_items", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, err := h.service.GetAllowance(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	employeeID, err := httpx.QueryInt64(r, "employee_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ListByEmployee(r.Context(), employeeID)
	if err != nil {
		h.logger.Debug("list allowances", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}
