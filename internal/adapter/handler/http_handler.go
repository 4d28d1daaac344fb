package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/logging"
	"github.com/rl1809/storefront/internal/metrics"
)

type HTTPHandler struct {
	catalog   *service.CatalogCache
	filter    *service.TagFilter
	recommend *service.Recommender
	carts     *service.CartRegistry
	identity  *IdentityVerifier
	logger    *zap.Logger
}

type AddItemHTTPRequest struct {
	ProductHandle string `json:"product_handle"`
	ProductID     string `json:"product_id"`
	VariantID     string `json:"variant_id"`
	Quantity      int    `json:"quantity"`
}

type UpdateItemHTTPRequest struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type CompleteCheckoutHTTPRequest struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

func NewHTTPHandler(catalog *service.CatalogCache, filter *service.TagFilter, recommend *service.Recommender, carts *service.CartRegistry, identity *IdentityVerifier, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		catalog:   catalog,
		filter:    filter,
		recommend: recommend,
		carts:     carts,
		identity:  identity,
		logger:    logging.OrNop(logger),
	}
}

// Routes builds the storefront API.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{handle}", h.GetProduct)
		r.Get("/products/{handle}/similar", h.SimilarProducts)
		r.Get("/products/{handle}/for-you", h.ForYouProducts)
		r.Get("/products/{handle}/recommended", h.RecommendedProducts)
		r.Get("/search", h.Search)
		r.Post("/catalog/invalidate", h.InvalidateCatalog)

		r.Group(func(r chi.Router) {
			r.Use(h.identity.Middleware)

			r.Get("/cart", h.GetCart)
			r.Delete("/cart", h.ClearCart)
			r.Post("/cart/items", h.AddItem)
			r.Patch("/cart/items", h.UpdateItem)
			r.Delete("/cart/items", h.RemoveItem)
			r.Post("/cart/checkout", h.CreateCheckout)
			r.Get("/cart/remote", h.RemoteCart)
			r.Post("/cart/checkout/complete", h.CompleteCheckout)
			r.Get("/orders/last", h.LastOrder)
		})
	})
	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListProducts filters by the comma separated tags parameter, or lists the
// catalog when no tags are given.
func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 0)
	fallback := boolParam(q.Get("fallback"))

	var (
		products []domain.Product
		err      error
	)
	if tags := splitTags(q.Get("tags")); len(tags) > 0 {
		products, err = h.filter.FilterByTags(r.Context(), tags, limit, fallback)
	} else {
		var snap *domain.CatalogSnapshot
		snap, err = h.catalog.Get(r.Context())
		if !snap.Empty() {
			products = snap.Products
			if limit > 0 && len(products) > limit {
				products = products[:limit]
			}
		}
	}
	h.writeProducts(w, products, err)
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.ProductByHandle(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: toProductView(p)})
}

func (h *HTTPHandler) SimilarProducts(w http.ResponseWriter, r *http.Request) {
	current, ok := h.currentProduct(w, r)
	if !ok {
		return
	}
	products, err := h.recommend.GetSimilarProducts(r.Context(), current, intParam(r.URL.Query().Get("limit"), 4))
	h.writeProducts(w, products, err)
}

func (h *HTTPHandler) ForYouProducts(w http.ResponseWriter, r *http.Request) {
	current, ok := h.currentProduct(w, r)
	if !ok {
		return
	}
	products, err := h.recommend.GetForYouProducts(r.Context(), current, intParam(r.URL.Query().Get("limit"), 4))
	h.writeProducts(w, products, err)
}

func (h *HTTPHandler) RecommendedProducts(w http.ResponseWriter, r *http.Request) {
	current, ok := h.currentProduct(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	products, err := h.recommend.GetRecommendedProducts(r.Context(), current, intParam(q.Get("limit"), 4), boolParam(q.Get("fallback")))
	h.writeProducts(w, products, err)
}

func (h *HTTPHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	products, err := h.catalog.Search(r.Context(), q.Get("q"), intParam(q.Get("limit"), 0))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: toProductViews(products)})
}

func (h *HTTPHandler) InvalidateCatalog(w http.ResponseWriter, r *http.Request) {
	h.catalog.Invalidate()
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart := h.existingCart(r)
	if cart == nil {
		writeEmptyCart(w)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: toCartView(cart.State())})
}

func (h *HTTPHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid request body"})
		return
	}

	var (
		product domain.Product
		err     error
	)
	switch {
	case req.ProductHandle != "":
		product, err = h.catalog.ProductByHandle(r.Context(), req.ProductHandle)
	case req.ProductID != "":
		product, err = h.catalog.ProductByID(r.Context(), req.ProductID)
	default:
		err = domain.ErrMissingID
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	var variant domain.Variant
	if req.VariantID != "" {
		v, ok := product.Variant(req.VariantID)
		if !ok {
			writeJSON(w, http.StatusBadRequest, apiResponse{Error: "unknown variant"})
			return
		}
		variant = v
	}

	st, err := h.cart(r).AddItem(product, variant, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: toCartView(st)})
}

func (h *HTTPHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid request body"})
		return
	}
	if req.VariantID == "" {
		h.writeError(w, domain.ErrMissingID)
		return
	}

	cart := h.existingCart(r)
	if cart == nil {
		writeEmptyCart(w)
		return
	}
	st, err := cart.UpdateQuantity(req.VariantID, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: toCartView(st)})
}

func (h *HTTPHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	variantID := r.URL.Query().Get("variant_id")
	if variantID == "" {
		h.writeError(w, domain.ErrMissingID)
		return
	}

	cart := h.existingCart(r)
	if cart == nil {
		writeEmptyCart(w)
		return
	}
	st, err := cart.RemoveItem(variantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: toCartView(st)})
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	cart := h.existingCart(r)
	if cart == nil {
		writeEmptyCart(w)
		return
	}
	st := cart.ClearCart()
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: toCartView(st)})
}

func (h *HTTPHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	cart := h.existingCart(r)
	if cart == nil {
		h.writeError(w, domain.ErrEmptyCart)
		return
	}
	checkout, err := cart.CreateCheckout(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: checkout})
}

func (h *HTTPHandler) RemoteCart(w http.ResponseWriter, r *http.Request) {
	cart := h.existingCart(r)
	if cart == nil {
		h.writeError(w, fmt.Errorf("%w: no remote cart", domain.ErrValidation))
		return
	}
	remote, err := cart.RemoteCart(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: remote})
}

func (h *HTTPHandler) CompleteCheckout(w http.ResponseWriter, r *http.Request) {
	var req CompleteCheckoutHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid request body"})
		return
	}

	order, err := h.cart(r).CompleteCheckout(req.OrderID, req.OrderNumber)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: order})
}

func (h *HTTPHandler) LastOrder(w http.ResponseWriter, r *http.Request) {
	cart := h.existingCart(r)
	if cart == nil {
		writeJSON(w, http.StatusNotFound, apiResponse{Error: "no completed order"})
		return
	}
	order, err := cart.LastOrder(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if order == nil {
		writeJSON(w, http.StatusNotFound, apiResponse{Error: "no completed order"})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: order})
}

func (h *HTTPHandler) cart(r *http.Request) *service.CartService {
	identity, _ := identityFrom(r.Context())
	return h.carts.Cart(r.Context(), identity)
}

func writeEmptyCart(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: toCartView(domain.CartState{Status: domain.CartStatusEmpty})})
}

// existingCart is cart for routes that cannot add items: a session minted
// on this request has nothing stored, so no cart is created for it.
func (h *HTTPHandler) existingCart(r *http.Request) *service.CartService {
	if sessionIssued(r.Context()) {
		return nil
	}
	return h.cart(r)
}

func (h *HTTPHandler) currentProduct(w http.ResponseWriter, r *http.Request) (domain.Product, bool) {
	p, err := h.catalog.ProductByHandle(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		h.writeError(w, err)
		return domain.Product{}, false
	}
	return p, true
}

// writeProducts serves whatever the catalog produced, stale or not; a
// catalog error is only fatal when nothing could be served.
func (h *HTTPHandler) writeProducts(w http.ResponseWriter, products []domain.Product, err error) {
	if err != nil {
		if len(products) == 0 {
			h.writeError(w, err)
			return
		}
		h.logger.Warn("serving stale catalog", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: toProductViews(products)})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status, message := http.StatusInternalServerError, "internal error"

	switch {
	case errors.Is(err, domain.ErrValidation):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrProductNotFound):
		status, message = http.StatusNotFound, "product not found"
	case errors.Is(err, domain.ErrCartChanged):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrTransientNetwork):
		status, message = http.StatusServiceUnavailable, "commerce backend unavailable"
	case errors.Is(err, domain.ErrRemoteRejection):
		status, message = http.StatusBadGateway, "commerce backend rejected the request"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, apiResponse{Error: message})
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func intParam(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func boolParam(raw string) bool {
	b, _ := strconv.ParseBool(raw)
	return b
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
