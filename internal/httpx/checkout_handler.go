package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/mtaufanr/go-merch-checkout/internal/checkout"
	"github.com/mtaufanr/go-merch-checkout/internal/inventory"
	"github.com/mtaufanr/go-merch-checkout/internal/metrics"
	"github.com/mtaufanr/go-merch-checkout/internal/orders"
	"github.com/mtaufanr/go-merch-checkout/internal/payments"
	"github.com/mtaufanr/go-merch-checkout/internal/pricing"
	"github.com/mtaufanr/go-merch-checkout/internal/redisx"
)

type Handler struct {
	Orchestrator *checkout.Orchestrator
	Processor    *payments.Processor
	Orders       orders.Store
	Ledger       inventory.Ledger
	Redis        *redis.Client
	Metrics      *metrics.CoreMetrics
}

func (h *Handler) Register(r *chi.Mux) {
	r.Post("/checkout/quote", h.quote)
	r.Post("/checkout", h.begin)
	r.Post("/checkout/{orderID}/retry-payment", h.retryPayment)
	r.Post("/payments/webhook", h.webhook)
	r.Get("/orders/{ref}", h.getOrder)
	r.Get("/orders/{ref}/status", h.getOrderStatus)
	r.Post("/orders/{orderID}/status", h.transitionStatus)
	r.Post("/inventory/adjust", h.adjustStock)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type quoteReq struct {
	Lines          []pricing.CartLine  `json:"lines"`
	Destination    pricing.Destination `json:"destination"`
	ShippingMethod string              `json:"shipping_method"`
	PromoCode      string              `json:"promo_code,omitempty"`
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	totals, err := h.Orchestrator.Quote(ctx, req.Lines, req.Destination, req.ShippingMethod, req.PromoCode)
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse(totals))
}

func (h *Handler) begin(w http.ResponseWriter, r *http.Request) {
	var req checkout.BeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	handle, err := h.Orchestrator.Begin(ctx, req)
	if err != nil {
		h.countCheckout(errOutcome(err))
		h.writeCheckoutError(w, err)
		return
	}
	h.countCheckout("accepted")
	writeJSON(w, http.StatusAccepted, handle)
}

func (h *Handler) retryPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	handle, err := h.Orchestrator.RetryPayment(ctx, orderID)
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, handle)
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	var ev payments.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	outcome, err := h.Processor.HandleEvent(ctx, ev)
	if errors.Is(err, payments.ErrMalformedEvent) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	// duplicates, unknown correlations and rejected sequences are all 200:
	// the gateway must not retry them
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.lookupOrder(ctx, ref)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache entries are keyed by order id only; a number ref misses here and
	// is served from the store
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, fmt.Sprintf(redisx.KeyOrderStatus, ref)).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	o, err := h.lookupOrder(ctx, ref)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	body := map[string]string{
		"status":         string(o.Status),
		"payment_status": string(o.PaymentStatus),
	}
	if h.Redis != nil {
		b, _ := json.Marshal(body)
		_ = h.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrderStatus, o.ID), b, redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, body)
}

type transitionReq struct {
	Status   string `json:"status"`
	Operator string `json:"operator"`
}

func (h *Handler) transitionStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	var req transitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Operator == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "operator is required"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	updated, err := h.Orders.Update(ctx, orderID, func(cur *orders.Order) error {
		return cur.Apply(orders.Transition{
			Status:   orders.ToStatus(orders.Status(req.Status)),
			Override: true, // authorized operator action
		}, time.Now())
	})
	if err != nil {
		var ite *orders.InvalidTransitionError
		switch {
		case errors.As(err, &ite):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": err.Error(), "allowed": ite.Allowed,
			})
		case errors.Is(err, orders.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type adjustReq struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Delta     int    `json:"delta"`
	Actor     string `json:"actor"`
	Reason    string `json:"reason"`
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ProductID == "" || req.Actor == "" || req.Delta == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "product_id, actor and a non-zero delta are required"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Ledger.Adjust(ctx, req.ProductID, req.VariantID, req.Delta, req.Actor, req.Reason); err != nil {
		if errors.Is(err, inventory.ErrAdjustBelow) || errors.Is(err, inventory.ErrRecordNotFound) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	lvl, err := h.Ledger.Stock(ctx, req.ProductID, req.VariantID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, lvl)
}

func (h *Handler) lookupOrder(ctx context.Context, ref string) (*orders.Order, error) {
	if o, err := h.Orders.GetByID(ctx, ref); err == nil {
		return o, nil
	}
	return h.Orders.GetByNumber(ctx, ref)
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, err error) {
	var ve *pricing.ValidationError
	var ise *inventory.InsufficientStockError
	var ite *orders.InvalidTransitionError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Error(), "line": ve.Line})
	case errors.As(err, &ise):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      ise.Error(),
			"product_id": ise.ProductID,
			"variant_id": ise.VariantID,
			"requested":  ise.Requested,
			"available":  ise.Available,
		})
	case errors.As(err, &ite):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "allowed": ite.Allowed})
	case errors.Is(err, checkout.ErrGatewayUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func errOutcome(err error) string {
	var ve *pricing.ValidationError
	var ise *inventory.InsufficientStockError
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ise):
		return "insufficient_stock"
	case errors.Is(err, checkout.ErrGatewayUnavailable):
		return "gateway_unavailable"
	}
	return "error"
}

func (h *Handler) countCheckout(outcome string) {
	if h.Metrics != nil {
		h.Metrics.CheckoutOutcomes.WithLabelValues(outcome).Inc()
	}
}

// quoteResponse flattens decimal totals for the wire.
func quoteResponse(t pricing.Totals) map[string]any {
	lines := make([]map[string]any, 0, len(t.Lines))
	for _, ln := range t.Lines {
		lines = append(lines, map[string]any{
			"product_id": ln.ProductID,
			"variant_id": ln.VariantID,
			"name":       ln.Name,
			"qty":        ln.Qty,
			"unit_price": ln.UnitPrice.StringFixed(2),
			"line_total": ln.LineTotal.StringFixed(2),
		})
	}
	resp := map[string]any{
		"lines":    lines,
		"subtotal": t.Subtotal.StringFixed(2),
		"tax":      t.Tax.StringFixed(2),
		"shipping": t.Shipping.StringFixed(2),
		"discount": t.Discount.StringFixed(2),
		"total":    t.Total.StringFixed(2),
		"currency": t.Currency,
	}
	if t.DiscountReason != "" {
		resp["discount_reason"] = t.DiscountReason
	}
	return resp
}
