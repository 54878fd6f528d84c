package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/akopylov/orderflow/internal/cache"
	"github.com/akopylov/orderflow/internal/order/application"
	"github.com/akopylov/orderflow/internal/order/domain"
)

// Handler is the thin request layer over the fulfillment core. Caller
// identity arrives pre-authenticated in X-User-ID / X-User-Staff; real
// authentication lives outside this module.
type Handler struct {
	log      *slog.Logger
	service  *application.Service
	versions cache.VersionStore
	cache    *cache.Client
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service, versions cache.VersionStore, client *cache.Client) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		versions: versions,
		cache:    client,
		tracer:   otel.Tracer("order-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Patch("/orders/{id}/status", h.updateStatus)
	return r
}

type itemReq struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type createOrderReq struct {
	Items []itemReq `json:"items"`
}

type orderItemResp struct {
	ProductID  int64  `json:"product_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

type orderResp struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Status     string          `json:"status"`
	TotalCents int64           `json:"total_cents"`
	Total      string          `json:"total"`
	Items      []orderItemResp `json:"items"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toResp(o domain.Order) orderResp {
	items := make([]orderItemResp, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResp{
			ProductID:  it.ProductID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			PriceCents: it.PriceCents,
		})
	}
	return orderResp{
		ID:         o.ID,
		UserID:     o.UserID,
		Status:     string(o.Status),
		TotalCents: o.TotalCents,
		Total:      domain.FormatCents(o.TotalCents),
		Items:      items,
		CreatedAt:  o.CreatedAt,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	actor := actorFrom(r)
	if actor.UserID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	items := make([]application.ItemRequest, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, application.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	o, err := h.service.CreateOrder(ctx, actor.UserID, items)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toResp(o))
}

// getOrder serves the versioned-cache read path: the key embeds the current
// namespace version, so any committed mutation orphans previously cached
// entries without deleting them.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	actor := actorFrom(r)
	if actor.UserID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}
	orderID := chi.URLParam(r, "id")

	var key string
	if h.cache != nil {
		version, err := h.versions.GetVersion(ctx, cache.OrderNamespace(orderID))
		if err != nil {
			h.log.Error("cache version read failed", "order_id", orderID, "err", err)
		} else {
			key = cache.DetailKey("order", version, orderID)
			if body, ok, err := h.cache.Get(ctx, key); err == nil && ok {
				// Ownership still has to hold for cached responses.
				var cached orderResp
				if json.Unmarshal(body, &cached) == nil && (actor.Privileged || cached.UserID == actor.UserID) {
					w.Header().Set("Content-Type", "application/json")
					_, _ = w.Write(body)
					return
				}
			}
		}
	}

	o, err := h.service.GetOrder(ctx, orderID, actor)
	if err != nil {
		h.writeError(w, err)
		return
	}

	body, err := json.Marshal(toResp(o))
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	if h.cache != nil && key != "" {
		if err := h.cache.Set(ctx, key, body, cache.DetailTTLSeconds*time.Second); err != nil {
			h.log.Error("cache set failed", "key", key, "err", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

type updateStatusReq struct {
	Status string `json:"status"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateOrderStatus")
	defer span.End()

	actor := actorFrom(r)
	if actor.UserID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	o, err := h.service.UpdateOrderStatus(ctx, chi.URLParam(r, "id"), domain.OrderStatus(req.Status), actor)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toResp(o))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrBelowMinimumAmount):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrTransactionConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	default:
		h.log.Error("request failed", "err", err)
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func actorFrom(r *http.Request) domain.Actor {
	return domain.Actor{
		UserID:     r.Header.Get("X-User-ID"),
		Privileged: r.Header.Get("X-User-Staff") == "true",
	}
}
