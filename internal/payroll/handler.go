package payroll

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/opsledger/internal/observability"
	"github.com/odyssey-erp/opsledger/internal/platform/httpx"
	"github.com/odyssey-erp/opsledger/internal/shared"
)

// Handler exposes payroll over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	metrics *observability.Metrics
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, metrics: metrics}
}

// MountRoutes registers payroll routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/runs/{id}", h.getRun)
	r.Get("/employees/{id}/profile", h.activeProfile)
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequireActor)
		r.Post("/profiles", h.createProfile)
		r.Post("/profiles/{id}/deactivate", h.deactivateProfile)
		r.Post("/runs", h.createRun)
		r.Post("/runs/{id}/generate", h.generate)
		r.Post("/runs/{id}/lock", h.runTransition("payroll.lock", h.service.Lock))
		r.Post("/runs/{id}/approve", h.runTransition("payroll.approve", h.service.Approve))
		r.Post("/runs/{id}/pay", h.runTransition("payroll.pay", h.service.Pay))
	})
}

func (h *Handler) createProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	profile, err := h.service.CreateProfile(r.Context(), req)
	h.metrics.ObserveOperation("payroll.create_profile", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, profile)
}

func (h *Handler) deactivateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	profile, err := h.service.DeactivateProfile(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

func (h *Handler) activeProfile(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	profile, err := h.service.ActiveProfile(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

func (h *Handler) createRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	run, err := h.service.CreateRun(r.Context(), req)
	h.metrics.ObserveOperation("payroll.create_run", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, run)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	run, err := h.service.Generate(r.Context(), id)
	h.metrics.ObserveOperation("payroll.generate", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, run)
}

func (h *Handler) runTransition(operation string, fn func(context.Context, int64, shared.Actor) (Run, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := shared.ActorFromContext(r.Context())
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		run, err := fn(r.Context(), id, actor)
		h.metrics.ObserveOperation(operation, err)
		if err != nil {
			h.logger.Warn("payroll transition", slog.String("operation", operation), slog.Int64("run_id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, run)
	}
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	run, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, run)
}
