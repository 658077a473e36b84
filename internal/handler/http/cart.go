package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/merchantry/wholesale-core/internal/domain"
	"github.com/merchantry/wholesale-core/internal/service"
	"github.com/merchantry/wholesale-core/pkg/httputil"
	"github.com/merchantry/wholesale-core/pkg/middleware"
	"github.com/merchantry/wholesale-core/pkg/validator"
)

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	service *service.CartService
	logger  *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(svc *service.CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		service: svc,
		logger:  logger,
	}
}

// AddItemRequest is the JSON request body for adding one unit to the cart.
type AddItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Color     string `json:"color"`
	Size      string `json:"size"`
}

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, role := identity(r)

	cart, err := h.service.GetCart(r.Context(), userID, role)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, role := identity(r)

	var req AddItemRequest
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

	cart, err := h.service.AddItem(r.Context(), userID, role, service.AddItemInput{
		ProductID: req.ProductID,
		Color:     req.Color,
		Size:      req.Size,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// RemoveItem handles DELETE /api/v1/cart/items/{productID}
// Removes one unit of the product line; color/size query parameters select
// the variant line.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, role := identity(r)
	productID := chi.URLParam(r, "productID")

	sig := domain.Variant{
		Color: r.URL.Query().Get("color"),
		Size:  r.URL.Query().Get("size"),
	}.Signature()
	lineID := domain.LineID(productID, sig)

	cart, err := h.service.RemoveItem(r.Context(), userID, role, lineID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// RemoveProduct handles DELETE /api/v1/cart/products/{productID}
// Drops every matching line regardless of quantity. This is the
// reconciliation endpoint used after a stock-rejected checkout.
func (h *CartHandler) RemoveProduct(w http.ResponseWriter, r *http.Request) {
	userID, role := identity(r)
	productID := chi.URLParam(r, "productID")

	cart, err := h.service.RemoveProductVariant(r.Context(), userID, role, productID,
		r.URL.Query().Get("color"), r.URL.Query().Get("size"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity(r)

	if err := h.service.ClearCart(r.Context(), userID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "cleared"}})
}

// MinimumOrder handles GET /api/v1/cart/minimum-order
func (h *CartHandler) MinimumOrder(w http.ResponseWriter, r *http.Request) {
	userID, role := identity(r)

	ok, shortfall, err := h.service.CheckMinimumOrder(r.Context(), userID, role)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"met":       ok,
		"shortfall": shortfall,
	}})
}

// identity pulls the authenticated user id and role from the request
// context. The identity middleware guarantees the user id is present on
// protected routes.
func identity(r *http.Request) (string, domain.Role) {
	return middleware.UserIDFromContext(r.Context()),
		domain.Role(middleware.RoleFromContext(r.Context()))
}
