package inventory

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/opsledger/internal/observability"
	"github.com/odyssey-erp/opsledger/internal/platform/httpx"
	"github.com/odyssey-erp/opsledger/internal/shared"
)

// Handler exposes the stock ledger over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	metrics *observability.Metrics
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, metrics: metrics}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balances", h.listBalances)
	r.Get("/balances/{branchID}/{productID}", h.getBalance)
	r.Get("/movements", h.listMovements)
	r.Get("/low-stock", h.lowStock)
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequireActor)
		r.Post("/movements", h.createMovement)
		r.Put("/balances/{branchID}/{productID}/levels", h.setLevels)
	})
}

type movementRequest struct {
	ProductID    int64           `json:"product_id"`
	FromBranchID int64           `json:"from_branch_id"`
	ToBranchID   int64           `json:"to_branch_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Type         string          `json:"type"`
	Note         string          `json:"note"`
}

type levelsRequest struct {
	MinLevel *decimal.Decimal `json:"min_level"`
	MaxLevel *decimal.Decimal `json:"max_level"`
}

func (h *Handler) createMovement(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	mtype, err := ParseMovementType(req.Type)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	applied, err := h.service.CreateMovement(r.Context(), MovementInput{
		ProductID:    req.ProductID,
		FromBranchID: req.FromBranchID,
		ToBranchID:   req.ToBranchID,
		Quantity:     req.Quantity,
		Type:         mtype,
		Note:         req.Note,
		ActorID:      actor.ID,
		RefModule:    "manual",
	})
	h.metrics.ObserveOperation("inventory.create_movement", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, applied)
}

func (h *Handler) setLevels(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.IDParam(r, "branchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID, err := httpx.IDParam(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req levelsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	bal, err := h.service.SetLevels(r.Context(), SetLevelsInput{
		ProductID: productID,
		BranchID:  branchID,
		MinLevel:  req.MinLevel,
		MaxLevel:  req.MaxLevel,
	})
	h.metrics.ObserveOperation("inventory.set_levels", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.IDParam(r, "branchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID, err := httpx.IDParam(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bal, err := h.service.GetBalance(r.Context(), productID, branchID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balances, err := h.service.ListBalances(r.Context(), branchID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	filter := MovementFilter{Type: MovementType(r.URL.Query().Get("type"))}
	var err error
	if filter.ProductID, err = httpx.QueryInt64(r, "product_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.BranchID, err = httpx.QueryInt64(r, "branch_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.From, err = httpx.QueryTime(r, "from"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = httpx.QueryTime(r, "to"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balances, err := h.service.LowStock(r.Context(), branchID)
	if err != nil {
		h.logger.Error("low stock", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balances)
}
