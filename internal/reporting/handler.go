package reporting

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/opsledger/internal/platform/httpx"
)

// Handler exposes read-only report endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/daily", h.summary(h.service.Daily))
	r.Get("/monthly", h.summary(h.service.Monthly))
	r.Get("/parties", h.summary(h.service.ByParty))
	r.Get("/employees", h.summary(h.service.ByEmployee))
	r.Get("/dashboard", h.dashboard)
}

func (h *Handler) summary(fn func(context.Context, Filter) (Summary, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseFilter(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		out, err := fn(r.Context(), filter)
		if err != nil {
			h.logger.Error("report summary", slog.String("path", r.URL.Path), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.Dashboard(r.Context(), filter)
	if err != nil {
		h.logger.Error("report dashboard", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func parseFilter(r *http.Request) (Filter, error) {
	var (
		f   Filter
		err error
	)
	if f.BranchID, err = httpx.QueryInt64(r, "branch_id"); err != nil {
		return Filter{}, err
	}
	if f.From, err = httpx.QueryTime(r, "from"); err != nil {
		return Filter{}, err
	}
	if f.To, err = httpx.QueryTime(r, "to"); err != nil {
		return Filter{}, err
	}
	f.Status = r.URL.Query().Get("status")
	return f, f.Validate()
}
