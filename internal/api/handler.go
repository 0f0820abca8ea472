// Package api exposes the discount engine over a thin HTTP surface. The
// engine itself is a library contract; these handlers only translate
// between JSON and the checkout types and map typed errors onto statuses.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/storely/promo-engine/internal/domain/checkout"
	"github.com/storely/promo-engine/internal/domain/flashsale"
	"github.com/storely/promo-engine/internal/domain/ledger"
	"github.com/storely/promo-engine/internal/domain/promotion"
	"github.com/storely/promo-engine/internal/metrics"
)

// Engine is the part of checkout.Engine the handlers need.
type Engine interface {
	Quote(ctx context.Context, order checkout.Order) (*checkout.Breakdown, error)
	Place(ctx context.Context, order checkout.Order) (*checkout.Breakdown, error)
}

// Handler serves the discount evaluation endpoints.
type Handler struct {
	engine Engine
}

// NewHandler creates a Handler backed by the given engine.
func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/discounts/quote", h.quote)
	mux.HandleFunc("POST /api/v1/discounts/apply", h.apply)
}

type orderItemRequest struct {
	ProductID   string          `json:"productId"`
	VariantID   string          `json:"variantId"`
	ProductName string          `json:"productName"`
	SKU         string          `json:"sku"`
	CategoryID  string          `json:"categoryId"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity"`
}

type orderRequest struct {
	OrderID        string             `json:"orderId"`
	UserID         string             `json:"userId"`
	PromotionCodes []string           `json:"promotionCodes,omitempty"`
	Items          []orderItemRequest `json:"items"`
}

func (r orderRequest) toOrder() checkout.Order {
	order := checkout.Order{
		ID:             r.OrderID,
		UserID:         r.UserID,
		PromotionCodes: r.PromotionCodes,
		Items:          make([]checkout.LineItem, len(r.Items)),
	}
	for i, item := range r.Items {
		order.Items[i] = checkout.LineItem{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			ProductName: item.ProductName,
			SKU:         item.SKU,
			CategoryID:  item.CategoryID,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
		}
	}
	return order
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	h.evaluate(w, r, h.engine.Quote)
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	h.evaluate(w, r, h.engine.Place)
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request, run func(context.Context, checkout.Order) (*checkout.Breakdown, error)) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err.Error())
		return
	}

	bd, err := run(r.Context(), req.toOrder())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	if bd.AppliedPromotion != "" || bd.FreeShipping {
		metrics.Resolutions.WithLabelValues("applied").Inc()
	}
	for _, item := range bd.Items {
		if item.FlashSale {
			metrics.FlashAllocations.WithLabelValues("allocated").Inc()
		}
	}
	writeBreakdown(w, bd)
}

// writeEngineError maps the engine's typed errors onto HTTP statuses and
// stable machine-readable codes, so the order flow can present a specific
// user-facing reason.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stockErr *flashsale.InsufficientStockError
		qtyErr   *checkout.InvalidQuantityError
		priceErr *checkout.InvalidPriceError
	)

	switch {
	case errors.Is(err, promotion.ErrNotFound):
		metrics.Resolutions.WithLabelValues("not_found").Inc()
		writeError(w, http.StatusNotFound, "promotion_not_found", "unknown promotion code")
	case errors.Is(err, promotion.ErrInactive):
		metrics.Resolutions.WithLabelValues("inactive").Inc()
		writeError(w, http.StatusUnprocessableEntity, "promotion_inactive", "promotion is not active")
	case errors.Is(err, promotion.ErrMinimumNotMet):
		metrics.Resolutions.WithLabelValues("minimum_not_met").Inc()
		writeError(w, http.StatusUnprocessableEntity, "minimum_not_met", "order subtotal below the promotion minimum")
	case errors.Is(err, promotion.ErrGlobalCapReached):
		metrics.Resolutions.WithLabelValues("cap_reached").Inc()
		writeError(w, http.StatusConflict, "usage_limit_reached", "this code has reached its usage limit")
	case errors.Is(err, promotion.ErrPerUserCapReached):
		metrics.Resolutions.WithLabelValues("cap_reached").Inc()
		writeError(w, http.StatusConflict, "per_user_limit_reached", "you have already used this code")
	case errors.As(err, &stockErr):
		metrics.FlashAllocations.WithLabelValues("insufficient_stock").Inc()
		writeError(w, http.StatusConflict, "insufficient_flash_stock", stockErr.Error())
	case errors.Is(err, ledger.ErrCommitConflict):
		writeError(w, http.StatusConflict, "commit_conflict", "order could not be committed, please retry")
	case errors.Is(err, checkout.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "timeout", "evaluation deadline exceeded")
	case errors.Is(err, checkout.ErrEmptyItems):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.As(err, &qtyErr), errors.As(err, &priceErr):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	default:
		zctx.From(r.Context()).Error("discount evaluation failed", zap.Error(err))
		metrics.Resolutions.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
