package masterdata

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/opsledger/internal/platform/httpx"
)

// Handler exposes reference data lookups.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/branches", h.listBranches)
	r.Get("/branches/{id}", h.showBranch)
	r.Get("/products/{id}", h.showProduct)
	r.Get("/employees", h.listEmployees)
}

func (h *Handler) listBranches(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListBranches(r.Context())
	if err != nil {
		h.logger.Error("list branches", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) showBranch(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.GetBranch(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) showProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listEmployees(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ListActiveEmployees(r.Context(), branchID)
	if err != nil {
		h.logger.Error("list employees", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}
