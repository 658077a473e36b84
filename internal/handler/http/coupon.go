package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/merchantry/wholesale-core/internal/domain"
	"github.com/merchantry/wholesale-core/internal/service"
	"github.com/merchantry/wholesale-core/pkg/httputil"
	"github.com/merchantry/wholesale-core/pkg/pagination"
	"github.com/merchantry/wholesale-core/pkg/validator"
)

// CouponHandler handles HTTP requests for coupon endpoints.
type CouponHandler struct {
	service *service.CouponService
	logger  *slog.Logger
}

// NewCouponHandler creates a new coupon HTTP handler.
func NewCouponHandler(svc *service.CouponService, logger *slog.Logger) *CouponHandler {
	return &CouponHandler{
		service: svc,
		logger:  logger,
	}
}

// ValidateCouponRequest is the JSON request body for checking a coupon
// against the caller's cart subtotal.
type ValidateCouponRequest struct {
	Code     string `json:"code" validate:"required"`
	Subtotal int64  `json:"subtotal" validate:"gte=0"`
}

// Validate handles POST /api/v1/coupons/validate
// A failing coupon returns 422 with the specific rejection reason so the
// storefront can show it before checkout.
func (h *CouponHandler) Validate(w http.ResponseWriter, r *http.Request) {
	userID, role := identity(r)

	var req ValidateCouponRequest
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

	coupon, discount, err := h.service.Validate(r.Context(), req.Code, userID, role, req.Subtotal)
	if err != nil {
		var ce *domain.CouponError
		if errors.As(err, &ce) {
			httputil.WriteJSON(w, http.StatusUnprocessableEntity, httputil.Response{
				Error: &httputil.ErrorResponse{Code: ce.Code, Message: ce.Message},
			})
			return
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"code":     coupon.Code,
		"type":     coupon.Type,
		"discount": discount,
	}})
}

// Create handles POST /api/v1/admin/coupons
func (h *CouponHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCouponInput
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

	coupon, err := h.service.CreateCoupon(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: coupon})
}

// List handles GET /api/v1/admin/coupons
func (h *CouponHandler) List(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)

	coupons, total, err := h.service.ListCoupons(r.Context(), params.Page, params.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: pagination.NewResult(coupons, total, params),
	})
}
