package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/merchantry/wholesale-core/internal/service"
	"github.com/merchantry/wholesale-core/pkg/httputil"
	"github.com/merchantry/wholesale-core/pkg/pagination"
	"github.com/merchantry/wholesale-core/pkg/validator"
)

// CheckoutHandler handles HTTP requests for checkout, orders and the
// back-office POS billing flow.
type CheckoutHandler struct {
	service *service.SaleService
	logger  *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(svc *service.SaleService, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service: svc,
		logger:  logger,
	}
}

// CheckoutRequest is the JSON request body for finalizing a checkout.
type CheckoutRequest struct {
	CouponCode  string `json:"coupon_code"`
	ShippingFee int64  `json:"shipping_fee" validate:"gte=0"`
}

// UpdateStatusRequest is the JSON request body for an order status change.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// Checkout handles POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, role := identity(r)

	var req CheckoutRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
			})
			return
		}
		if err := validator.Validate(req); err != nil {
			httputil.WriteValidationError(w, err)
			return
		}
	}

	order, err := h.service.FinalizeCheckout(r.Context(), userID, role, service.CheckoutInput{
		CouponCode:  req.CouponCode,
		ShippingFee: req.ShippingFee,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: order})
}

// POSSale handles POST /api/v1/admin/sales
// Records an offline back-office sale through the same finalization engine
// as a storefront checkout.
func (h *CheckoutHandler) POSSale(w http.ResponseWriter, r *http.Request) {
	var req service.POSSaleInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	order, err := h.service.FinalizePOSSale(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: order})
}

// GetOrder handles GET /api/v1/orders/{orderID}
// Users see only their own orders; back-office staff may fetch any order.
func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, role := identity(r)
	requester := userID
	if string(role) == AdminRole {
		requester = ""
	}
	order, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "orderID"), requester)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// ListOrders handles GET /api/v1/orders
func (h *CheckoutHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity(r)
	params := pagination.FromRequest(r)

	orders, total, err := h.service.ListOrders(r.Context(), userID, params.Page, params.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: pagination.NewResult(orders, total, params),
	})
}

// UpdateOrderStatus handles PUT /api/v1/admin/orders/{orderID}/status
func (h *CheckoutHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	orderID := chi.URLParam(r, "orderID")
	if err := h.service.UpdateOrderStatus(r.Context(), orderID, req.Status); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{
		"order_id": orderID,
		"status":   req.Status,
	}})
}
