package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/akopylov/orderflow/internal/cache"
	"github.com/akopylov/orderflow/internal/catalog/application"
	"github.com/akopylov/orderflow/internal/catalog/domain"
	orderdomain "github.com/akopylov/orderflow/internal/order/domain"
)

// Handler serves the product catalog. Reads go through the versioned cache
// keyed on the products namespace; mutations are staff-only and bump the
// namespace through the application service.
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
		tracer:   otel.Tracer("catalog-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
	r.Post("/products", h.createProduct)
	r.Put("/products/{id}", h.updateProduct)
	return r
}

type productReq struct {
	Name       string `json:"name"`
	Category   string `json:"category"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
}

type productResp struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	PriceCents int64  `json:"price_cents"`
	Price      string `json:"price"`
	Stock      int    `json:"stock"`
	InStock    bool   `json:"in_stock"`
}

func toResp(p domain.Product) productResp {
	return productResp{
		ID:         p.ID,
		Name:       p.Name,
		Category:   string(p.Category),
		PriceCents: p.PriceCents,
		Price:      orderdomain.FormatCents(p.PriceCents),
		Stock:      p.Stock,
		InStock:    p.InStock(),
	}
}

// listProducts is the collection read path: the key embeds the products
// namespace version plus the filter, so any committed catalog mutation
// orphans every cached page at once.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListProducts")
	defer span.End()

	category := r.URL.Query().Get("category")
	filter := category
	if filter == "" {
		filter = "all"
	}

	var key string
	if h.cache != nil {
		version, err := h.versions.GetVersion(ctx, cache.NamespaceProducts)
		if err != nil {
			h.log.Error("cache version read failed", "namespace", cache.NamespaceProducts, "err", err)
		} else {
			key = cache.ListKey("products", version, filter)
			if body, ok, err := h.cache.Get(ctx, key); err == nil && ok {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write(body)
				return
			}
		}
	}

	products, err := h.service.ListProducts(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]productResp, 0, len(products))
	for _, p := range products {
		if category != "" && string(p.Category) != category {
			continue
		}
		out = append(out, toResp(p))
	}
	body, err := json.Marshal(out)
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	if h.cache != nil && key != "" {
		if err := h.cache.Set(ctx, key, body, cache.ListTTLSeconds*time.Second); err != nil {
			h.log.Error("cache set failed", "key", key, "err", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetProduct")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid product id", http.StatusBadRequest)
		return
	}

	var key string
	if h.cache != nil {
		version, err := h.versions.GetVersion(ctx, cache.NamespaceProducts)
		if err != nil {
			h.log.Error("cache version read failed", "namespace", cache.NamespaceProducts, "err", err)
		} else {
			key = cache.DetailKey("product", version, strconv.FormatInt(id, 10))
			if body, ok, err := h.cache.Get(ctx, key); err == nil && ok {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write(body)
				return
			}
		}
	}

	p, err := h.service.GetProduct(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	body, err := json.Marshal(toResp(p))
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

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateProduct")
	defer span.End()

	if !isStaff(r) {
		http.Error(w, "staff only", http.StatusForbidden)
		return
	}
	var req productReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	p, err := h.service.CreateProduct(ctx, domain.Product{
		Name:       req.Name,
		Category:   domain.Category(req.Category),
		PriceCents: req.PriceCents,
		Stock:      req.Stock,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toResp(p))
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateProduct")
	defer span.End()

	if !isStaff(r) {
		http.Error(w, "staff only", http.StatusForbidden)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid product id", http.StatusBadRequest)
		return
	}
	var req productReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	p, err := h.service.UpdateProduct(ctx, domain.Product{
		ID:         id,
		Name:       req.Name,
		Category:   domain.Category(req.Category),
		PriceCents: req.PriceCents,
		Stock:      req.Stock,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toResp(p))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, orderdomain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, orderdomain.ErrNotFound):
		status = http.StatusNotFound
	default:
		h.log.Error("request failed", "err", err)
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func isStaff(r *http.Request) bool {
	return r.Header.Get("X-User-Staff") == "true"
}
