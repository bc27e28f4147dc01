package sales

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/opsledger/internal/observability"
	"github.com/odyssey-erp/opsledger/internal/platform/httpx"
	"github.com/odyssey-erp/opsledger/internal/shared"
)

// Handler exposes the order ledger over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	metrics *observability.Metrics
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, metrics: metrics}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listOrders)
	r.Get("/{id}", h.getOrder)
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequireActor)
		r.Post("/", h.createOrder)
		r.Patch("/{id}", h.updateOrder)
		r.Delete("/{id}", h.deleteOrder)
		r.Post("/{id}/items", h.addItems)
		r.Post("/{id}/payments", h.addPayment)
		r.Post("/{id}/post", h.postOrder)
	})
}

type itemsRequest struct {
	Items []ItemInput `json:"items"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req CreateOrderInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.ActorID = actor.ID
	order, err := h.service.CreateOrder(r.Context(), req)
	h.metrics.ObserveOperation("sales.create_order", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req UpdateOrderInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.UpdateOrder(r.Context(), id, req)
	h.metrics.ObserveOperation("sales.update_order", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	err = h.service.DeleteOrder(r.Context(), id, actor.ID)
	h.metrics.ObserveOperation("sales.delete_order", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
	order, err := h.service.AddItems(r.Context(), id, req.Items)
	h.metrics.ObserveOperation("sales.add_items", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) addPayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req PaymentInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.ActorID = actor.ID
	order, err := h.service.AddPayment(r.Context(), id, req)
	h.metrics.ObserveOperation("sales.add_payment", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) postOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.PostOrder(r.Context(), id, actor.ID)
	h.metrics.ObserveOperation("sales.post_order", err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	filter := OrderFilter{Status: OrderStatus(r.URL.Query().Get("status"))}
	var err error
	if filter.BranchID, err = httpx.QueryInt64(r, "branch_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.PartyID, err = httpx.QueryInt64(r, "party_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.EmployeeID, err = httpx.QueryInt64(r, "employee_id"); err != nil {
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
	orders, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		h.logger.Error("list sales orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}
