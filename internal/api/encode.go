package api

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/storely/promo-engine/internal/domain/checkout"
)

// writeBreakdown encodes the discount breakdown with jx and writes it with
// a 200 status.
func writeBreakdown(w http.ResponseWriter, bd *checkout.Breakdown) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("subtotal", func(e *jx.Encoder) { e.Str(bd.Subtotal.StringFixed(2)) })
		e.Field("discount", func(e *jx.Encoder) { e.Str(bd.Discount.StringFixed(2)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(bd.Total.StringFixed(2)) })
		if bd.AppliedPromotion != "" {
			e.Field("appliedPromotion", func(e *jx.Encoder) { e.Str(bd.AppliedPromotion) })
		}
		e.Field("freeShipping", func(e *jx.Encoder) { e.Bool(bd.FreeShipping) })
		e.Field("evaluatedAt", func(e *jx.Encoder) { e.Str(bd.EvaluatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, item := range bd.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(item.ProductID) })
						e.Field("variantId", func(e *jx.Encoder) { e.Str(item.VariantID) })
						e.Field("productName", func(e *jx.Encoder) { e.Str(item.ProductName) })
						e.Field("sku", func(e *jx.Encoder) { e.Str(item.SKU) })
						e.Field("unitPrice", func(e *jx.Encoder) { e.Str(item.UnitPrice.StringFixed(2)) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
						e.Field("lineTotal", func(e *jx.Encoder) { e.Str(item.LineTotal.StringFixed(2)) })
						e.Field("discount", func(e *jx.Encoder) { e.Str(item.Discount.StringFixed(2)) })
						e.Field("flashSale", func(e *jx.Encoder) { e.Bool(item.FlashSale) })
					})
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(e.Bytes())
}

// writeError encodes a machine-readable error body.
func writeError(w http.ResponseWriter, status int, code, message string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
