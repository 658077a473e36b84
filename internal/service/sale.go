package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/merchantry/wholesale-core/internal/domain"
	"github.com/merchantry/wholesale-core/internal/event"
	"github.com/merchantry/wholesale-core/internal/repository"
	apperrors "github.com/merchantry/wholesale-core/pkg/errors"
)

// CheckoutInput holds the parameters for finalizing a storefront checkout.
type CheckoutInput struct {
	CouponCode  string `json:"coupon_code"`
	ShippingFee int64  `json:"shipping_fee" validate:"gte=0"`
}

// POSLineInput is one line of an offline point-of-sale bill.
type POSLineInput struct {
	ProductID string `json:"product_id" validate:"required"`
	Color     string `json:"color"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// POSSaleInput holds the parameters for recording an offline sale.
type POSSaleInput struct {
	CustomerID string         `json:"customer_id" validate:"required"`
	Role       string         `json:"role" validate:"required,oneof=retail wholesaler distributor dealer vip"`
	Lines      []POSLineInput `json:"lines" validate:"required,min=1,dive"`
	CouponCode string         `json:"coupon_code"`
}

// SaleService implements the stock finalization engine. Every sale, whether
// a storefront checkout or an offline POS bill, goes through the same
// all-or-nothing commit.
type SaleService struct {
	sales      repository.SaleRepository
	carts      repository.CartRepository
	catalog    repository.CatalogRepository
	coupons    *CouponService
	producer   *event.Producer
	logger     *slog.Logger
	minimums   map[domain.Role]int64
	maxRetries int
}

// NewSaleService creates a new sale service.
func NewSaleService(
	sales repository.SaleRepository,
	carts repository.CartRepository,
	catalog repository.CatalogRepository,
	coupons *CouponService,
	producer *event.Producer,
	logger *slog.Logger,
	minimums map[domain.Role]int64,
	maxRetries int,
) *SaleService {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &SaleService{
		sales:      sales,
		carts:      carts,
		catalog:    catalog,
		coupons:    coupons,
		producer:   producer,
		logger:     logger,
		minimums:   minimums,
		maxRetries: maxRetries,
	}
}

// FinalizeCheckout turns the user's cart into an order. The cart is repriced
// with fresh catalog data, the coupon is re-validated, and the stock
// decrement plus order creation commit atomically. On success the cart is
// cleared.
func (s *SaleService) FinalizeCheckout(ctx context.Context, userID string, role domain.Role, input CheckoutInput) (*domain.Order, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}
	if !role.Valid() {
		return nil, apperrors.InvalidInput("unknown role: " + string(role))
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.InvalidInput("cart is empty")
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if len(cart.Lines) == 0 {
		return nil, apperrors.InvalidInput("cart is empty")
	}

	// Reprice with fresh catalog data so the order captures current prices,
	// not whatever the cart was saved with.
	if err := s.repriceCart(ctx, cart, role); err != nil {
		return nil, err
	}
	// Repricing drops lines for products removed from the catalog.
	if len(cart.Lines) == 0 {
		return nil, apperrors.InvalidInput("cart is empty")
	}

	if ok, shortfall := cart.CheckMinimumOrder(role, s.minimums); !ok {
		return nil, apperrors.Unprocessable("below_minimum_order",
			fmt.Sprintf("order is %d below the minimum total for role %s", shortfall, role))
	}

	order := s.buildOrder(userID, role, cart, domain.ChannelStorefront, input.ShippingFee)

	usage, err := s.applyCoupon(ctx, order, input.CouponCode, userID, role)
	if err != nil {
		return nil, err
	}

	if err := s.commitWithRetry(ctx, order, usage); err != nil {
		return nil, err
	}

	if err := s.carts.Delete(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to clear cart after checkout",
			slog.String("user_id", userID),
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	s.publishSale(ctx, order, usage)
	return order, nil
}

// FinalizePOSSale records an offline back-office sale. The lines come from
// the bill payload instead of a stored cart, but pricing and the stock
// commit follow the exact same rules as a storefront checkout.
func (s *SaleService) FinalizePOSSale(ctx context.Context, input POSSaleInput) (*domain.Order, error) {
	role := domain.Role(input.Role)
	if !role.Valid() {
		return nil, apperrors.InvalidInput("unknown role: " + input.Role)
	}
	if len(input.Lines) == 0 {
		return nil, apperrors.InvalidInput("at least one line is required")
	}

	cart := domain.NewCart(input.CustomerID)
	ids := make([]string, 0, len(input.Lines))
	seen := make(map[string]bool)
	for _, line := range input.Lines {
		if !seen[line.ProductID] {
			seen[line.ProductID] = true
			ids = append(ids, line.ProductID)
		}
	}
	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	for _, line := range input.Lines {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, apperrors.NotFound("product", line.ProductID)
		}
		var variant *domain.Variant
		if line.Color != "" || line.Size != "" {
			sig := domain.Variant{Color: line.Color, Size: line.Size}.Signature()
			variant = product.FindVariant(sig)
			if variant == nil {
				return nil, apperrors.NotFound("variant", sig)
			}
		}
		// POS lines carry explicit quantities; stock limits are enforced by
		// the finalization commit, not the cart cap, so the bill can state
		// more than the cart would allow and fail with the full error list.
		sig := ""
		if variant != nil {
			sig = variant.Signature()
		}
		id := domain.LineID(product.ID, sig)
		cl := cart.Lines[id]
		if cl.ProductID == "" {
			cl = domain.CartLine{
				ProductID:  product.ID,
				Name:       product.Name,
				SKU:        product.SKU,
				StockLimit: product.StockFor(sig),
			}
			if variant != nil {
				cl.Color = variant.Color
				cl.Size = variant.Size
			}
		}
		cl.Quantity += line.Quantity
		cart.Lines[id] = cl
	}

	if err := cart.RecalculateAll(role, products); err != nil {
		if errors.Is(err, domain.ErrNoPricingData) {
			return nil, apperrors.Unprocessable("no_pricing_data", err.Error())
		}
		return nil, err
	}

	order := s.buildOrder(input.CustomerID, role, cart, domain.ChannelPOS, 0)

	usage, err := s.applyCoupon(ctx, order, input.CouponCode, input.CustomerID, role)
	if err != nil {
		return nil, err
	}

	if err := s.commitWithRetry(ctx, order, usage); err != nil {
		return nil, err
	}

	s.publishSale(ctx, order, usage)
	return order, nil
}

// GetOrder retrieves an order with its lines. A non-empty requesterID scopes
// the lookup to that user's own orders; someone else's order reads as not
// found so the id space leaks nothing. Back-office callers pass an empty
// requesterID for an unrestricted lookup.
func (s *SaleService) GetOrder(ctx context.Context, id, requesterID string) (*domain.Order, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("order id is required")
	}
	order, err := s.sales.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if requesterID != "" && order.UserID != requesterID {
		return nil, apperrors.NotFound("order", id)
	}
	return order, nil
}

// ListOrders returns the user's orders, newest first.
func (s *SaleService) ListOrders(ctx context.Context, userID string, page, perPage int) ([]domain.Order, int, error) {
	if userID == "" {
		return nil, 0, apperrors.InvalidInput("user id is required")
	}
	return s.sales.ListOrdersByUser(ctx, userID, page, perPage)
}

// UpdateOrderStatus moves an order to a new status.
func (s *SaleService) UpdateOrderStatus(ctx context.Context, id, status string) error {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusProcessing, domain.OrderStatusShipped,
		domain.OrderStatusDelivered, domain.OrderStatusCancelled:
	default:
		return apperrors.InvalidInput("unknown order status: " + status)
	}
	return s.sales.UpdateOrderStatus(ctx, id, status)
}

// buildOrder captures the cart lines into an order with the prices in effect
// right now. Lines are sorted for deterministic output.
func (s *SaleService) buildOrder(userID string, role domain.Role, cart *domain.Cart, channel string, shippingFee int64) *domain.Order {
	lineIDs := make([]string, 0, len(cart.Lines))
	for id := range cart.Lines {
		lineIDs = append(lineIDs, id)
	}
	sort.Strings(lineIDs)

	lines := make([]domain.OrderLine, 0, len(lineIDs))
	for _, id := range lineIDs {
		cl := cart.Lines[id]
		lines = append(lines, domain.OrderLine{
			ProductID: cl.ProductID,
			Name:      cl.Name,
			SKU:       cl.SKU,
			Color:     cl.Color,
			Size:      cl.Size,
			Quantity:  cl.Quantity,
			UnitPrice: cl.UnitPrice,
		})
	}

	subtotal := cart.Subtotal()
	now := time.Now().UTC()
	return &domain.Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		Role:        role,
		Lines:       lines,
		Subtotal:    subtotal,
		ShippingFee: shippingFee,
		TotalAmount: subtotal + shippingFee,
		Status:      domain.OrderStatusPending,
		Channel:     channel,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// applyCoupon re-validates the coupon against fresh data and applies the
// discount to the order. A coupon that fails validation aborts the sale
// with its specific reason; the sale is never silently completed at full
// price.
func (s *SaleService) applyCoupon(ctx context.Context, order *domain.Order, code, userID string, role domain.Role) (*domain.CouponUsage, error) {
	if code == "" {
		return nil, nil
	}

	coupon, discount, err := s.coupons.Validate(ctx, code, userID, role, order.Subtotal)
	if err != nil {
		var ce *domain.CouponError
		if errors.As(err, &ce) {
			return nil, apperrors.Unprocessable(ce.Code, ce.Message)
		}
		return nil, err
	}

	order.Discount = discount
	order.CouponCode = coupon.Code
	order.TotalAmount = order.Subtotal - discount + order.ShippingFee

	return &domain.CouponUsage{
		ID:        uuid.NewString(),
		CouponID:  coupon.ID,
		UserID:    userID,
		OrderID:   order.ID,
		Discount:  discount,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// commitWithRetry runs the atomic stock commit, retrying serialization
// conflicts up to the configured attempt count. Stock insufficiencies are
// final: they surface immediately with the full error list.
func (s *SaleService) commitWithRetry(ctx context.Context, order *domain.Order, usage *domain.CouponUsage) error {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = s.sales.CommitSale(ctx, order, usage)
		if err == nil {
			return nil
		}

		var stockErrs *domain.StockErrors
		if errors.As(err, &stockErrs) {
			return &apperrors.AppError{
				Code:    "insufficient_stock",
				Message: "one or more items exceed available stock",
				Status:  http.StatusConflict,
				Err:     stockErrs,
				Details: stockErrs.Errors,
			}
		}

		// A concurrent redemption can take the coupon's last slot between
		// validation and commit; the commit-time guard rejects the sale.
		var couponErr *domain.CouponError
		if errors.As(err, &couponErr) {
			return apperrors.Unprocessable(couponErr.Code, couponErr.Message)
		}

		if !errors.Is(err, domain.ErrFinalizeConflict) {
			return err
		}
		s.logger.WarnContext(ctx, "finalization conflict, retrying",
			slog.String("order_id", order.ID),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", s.maxRetries),
		)
	}
	return apperrors.Conflict("checkout could not complete due to concurrent sales, please retry")
}

func (s *SaleService) repriceCart(ctx context.Context, cart *domain.Cart, role domain.Role) error {
	ids := make([]string, 0, len(cart.Lines))
	seen := make(map[string]bool)
	for _, line := range cart.Lines {
		if !seen[line.ProductID] {
			seen[line.ProductID] = true
			ids = append(ids, line.ProductID)
		}
	}
	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return fmt.Errorf("load cart products: %w", err)
	}
	if err := cart.RecalculateAll(role, products); err != nil {
		if errors.Is(err, domain.ErrNoPricingData) {
			return apperrors.Unprocessable("no_pricing_data", err.Error())
		}
		return err
	}
	return nil
}

// publishSale emits the post-commit events. Failures are logged, never
// surfaced: the sale is already durable.
func (s *SaleService) publishSale(ctx context.Context, order *domain.Order, usage *domain.CouponUsage) {
	if err := s.producer.PublishOrderCreated(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.created event",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
	if usage != nil {
		if err := s.producer.PublishCouponApplied(ctx, usage, order.CouponCode); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish coupon.applied event",
				slog.String("order_id", order.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
