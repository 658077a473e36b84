package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/merchantry/wholesale-core/internal/domain"
	apperrors "github.com/merchantry/wholesale-core/pkg/errors"
)

type saleFixture struct {
	sales   *mockSaleRepository
	carts   *mockCartRepository
	catalog *mockCatalogRepository
	coupons *mockCouponRepository
	svc     *SaleService
}

func newSaleFixture(t *testing.T, minimums map[domain.Role]int64) *saleFixture {
	t.Helper()
	f := &saleFixture{
		sales:   new(mockSaleRepository),
		carts:   new(mockCartRepository),
		catalog: new(mockCatalogRepository),
		coupons: new(mockCouponRepository),
	}
	logger := newTestLogger()
	f.svc = NewSaleService(
		f.sales, f.carts, f.catalog,
		NewCouponService(f.coupons, logger),
		newTestProducer(t), logger, minimums, 3,
	)
	return f
}

func storedWholesaleCart() *domain.Cart {
	cart := domain.NewCart("user-1")
	cart.Lines["prod-1"] = domain.CartLine{ProductID: "prod-1", Name: "Canvas Tote", SKU: "TOTE-01", Quantity: 12, StockLimit: 40}
	cart.Version = 2
	return cart
}

func (f *saleFixture) expectCartLoad() {
	f.carts.On("Get", mock.Anything, "user-1").Return(storedWholesaleCart(), nil)
	f.catalog.On("GetProducts", mock.Anything, []string{"prod-1"}).
		Return(map[string]*domain.Product{"prod-1": tieredProduct()}, nil)
}

// ============================================================================
// FinalizeCheckout Tests
// ============================================================================

func TestFinalizeCheckout_Success(t *testing.T) {
	f := newSaleFixture(t, nil)
	f.expectCartLoad()

	var committed *domain.Order
	f.sales.On("CommitSale", mock.Anything, mock.AnythingOfType("*domain.Order"), (*domain.CouponUsage)(nil)).
		Run(func(args mock.Arguments) { committed = args.Get(1).(*domain.Order) }).
		Return(nil)
	f.carts.On("Delete", mock.Anything, "user-1").Return(nil)

	order, err := f.svc.FinalizeCheckout(context.Background(), "user-1", domain.RoleWholesaler,
		CheckoutInput{ShippingFee: 500})
	require.NoError(t, err)
	require.NotNil(t, committed)

	// 12 units at the aggregate tier price of 80.
	assert.Equal(t, int64(960), order.Subtotal)
	assert.Equal(t, int64(1460), order.TotalAmount)
	assert.Equal(t, domain.ChannelStorefront, order.Channel)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.RoleWholesaler, order.Role)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, int64(80), order.Lines[0].UnitPrice)
	f.carts.AssertCalled(t, "Delete", mock.Anything, "user-1")
}

func TestFinalizeCheckout_EmptyCart(t *testing.T) {
	f := newSaleFixture(t, nil)
	f.carts.On("Get", mock.Anything, "user-1").Return(nil, apperrors.NotFound("cart", "user-1"))

	_, err := f.svc.FinalizeCheckout(context.Background(), "user-1", domain.RoleWholesaler, CheckoutInput{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestFinalizeCheckout_BelowMinimumOrder(t *testing.T) {
	f := newSaleFixture(t, map[domain.Role]int64{domain.RoleWholesaler: 50000})
	f.expectCartLoad()

	_, err := f.svc.FinalizeCheckout(context.Background(), "user-1", domain.RoleWholesaler, CheckoutInput{})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "below_minimum_order", appErr.Code)
	f.sales.AssertNotCalled(t, "CommitSale", mock.Anything, mock.Anything, mock.Anything)
}

func TestFinalizeCheckout_InsufficientStock(t *testing.T) {
	f := newSaleFixture(t, nil)
	f.expectCartLoad()

	stockErrs := &domain.StockErrors{}
	stockErrs.Add(domain.StockInsufficientError{ProductID: "prod-1", Requested: 12, Available: 4})
	stockErrs.Add(domain.StockInsufficientError{ProductID: "prod-1", Color: "Red", Size: "M", Requested: 2, Available: 1})
	f.sales.On("CommitSale", mock.Anything, mock.Anything, mock.Anything).Return(stockErrs)

	_, err := f.svc.FinalizeCheckout(context.Background(), "user-1", domain.RoleWholesaler, CheckoutInput{})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "insufficient_stock", appErr.Code)
	assert.Equal(t, http.StatusConflict, appErr.Status)

	details, ok := appErr.Details.([]domain.StockInsufficientError)
	require.True(t, ok)
	assert.Len(t, details, 2)

	// Insufficiency is final, never retried, and the cart survives.
	f.sales.AssertNumberOfCalls(t, "CommitSale", 1)
	f.carts.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestFinalizeCheckout_RetriesSerializationConflict(t *testing.T) {
	f := newSaleFixture(t, nil)
	f.expectCartLoad()

	f.sales.On("CommitSale", mock.Anything, mock.Anything, mock.Anything).Return(domain.ErrFinalizeConflict).Twice()
	f.sales.On("CommitSale", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	f.carts.On("Delete", mock.Anything, "user-1").Return(nil)

	order, err := f.svc.FinalizeCheckout(context.Background(), "user-1", domain.RoleWholesaler, CheckoutInput{})
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	f.sales.AssertNumberOfCalls(t, "CommitSale", 3)
}

func TestFinalizeCheckout_RetriesExhausted(t *testing.T) {
	f := newSaleFixture(t, nil)
	f.expectCartLoad()

	f.sales.On("CommitSale", mock.Anything, mock.Anything, mock.Anything).Return(domain.ErrFinalizeConflict)

	_, err := f.svc.FinalizeCheckout(context.Background(), "user-1", domain.RoleWholesaler, CheckoutInput{})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	f.sales.AssertNumberOfCalls(t, "CommitSale", 3)
	f.carts.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestFinalizeCheckout_WithCoupon(t *testing.T) {
	f := newSaleFixture(t, nil)
	f.expectCartLoad()

	coupon := &domain.Coupon{
		ID:        "coupon-1",
		Code:      "FLAT100",
		Type:      domain.CouponTypeFlat,
		Value:     100,
		IsActive:  true,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	f.coupons.On("GetByCode", mock.Anything, "FLAT100").Return(coupon, nil)

	var usage *domain.CouponUsage
	f.sales.On("CommitSale", mock.Anything, mock.AnythingOfType("*domain.Order"), mock.AnythingOfType("*domain.CouponUsage")).
		Run(func(args mock.Arguments) { usage = args.Get(2).(*domain.CouponUsage) }).
		Return(nil)
	f.carts.On("Delete", mock.Anything, "user-1").Return(nil)

	order, err := f.svc.FinalizeCheckout(context.Background(), "user-1", domain.RoleWholesaler,
		CheckoutInput{CouponCode: "FLAT100", ShippingFee: 500})
	require.NoError(t, err)

	assert.Equal(t, int64(100), order.Discount)
	assert.Equal(t, "FLAT100", order.CouponCode)
	assert.Equal(t, int64(960-100+500), order.TotalAmount)
	require.NotNil(t, usage)
	assert.Equal(t, "coupon-1", usage.CouponID)
	assert.Equal(t, order.ID, usage.OrderID)
	assert.Equal(t, int64(100), usage.Discount)
}

func TestFinalizeCheckout_CouponFailureVoidsSale(t *testing.T) {
	f := newSaleFixture(t, nil)
	f.expectCartLoad()

	expired := &domain.Coupon{
		ID:        "coupon-1",
		Code:      "OLD",
		Type:      domain.CouponTypeFlat,
		Value:     100,
		IsActive:  true,
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	f.coupons.On("GetByCode", mock.Anything, "OLD").Return(expired, nil)

	// A failing coupon aborts the checkout instead of completing at full price.
	_, err := f.svc.FinalizeCheckout(context.Background(), "user-1", domain.RoleWholesaler,
		CheckoutInput{CouponCode: "OLD"})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, domain.CouponReasonExpired, appErr.Code)
	f.sales.AssertNotCalled(t, "CommitSale", mock.Anything, mock.Anything, mock.Anything)
	f.carts.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestFinalizeCheckout_CouponCapTakenAtCommit(t *testing.T) {
	f := newSaleFixture(t, nil)
	f.expectCartLoad()

	coupon := &domain.Coupon{
		ID:        "coupon-1",
		Code:      "LAST1",
		Type:      domain.CouponTypeFlat,
		Value:     100,
		MaxUses:   10,
		UsedCount: 9,
		IsActive:  true,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	f.coupons.On("GetByCode", mock.Anything, "LAST1").Return(coupon, nil)

	// Validation saw the last slot free, but a concurrent checkout claimed it
	// before this commit: the in-transaction guard rejects the redemption.
	f.sales.On("CommitSale", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.NewCouponError(domain.CouponReasonUsageExceeded, "coupon has reached its usage limit"))

	_, err := f.svc.FinalizeCheckout(context.Background(), "user-1", domain.RoleWholesaler,
		CheckoutInput{CouponCode: "LAST1"})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, domain.CouponReasonUsageExceeded, appErr.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, appErr.Status)

	// The rejection is final, never retried, and the cart survives.
	f.sales.AssertNumberOfCalls(t, "CommitSale", 1)
	f.carts.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestFinalizeCheckout_AllProductsRemovedFromCatalog(t *testing.T) {
	f := newSaleFixture(t, nil)

	f.carts.On("Get", mock.Anything, "user-1").Return(storedWholesaleCart(), nil)
	f.catalog.On("GetProducts", mock.Anything, []string{"prod-1"}).
		Return(map[string]*domain.Product{}, nil)

	// Repricing drops every line whose product is gone, leaving nothing to buy.
	_, err := f.svc.FinalizeCheckout(context.Background(), "user-1", domain.RoleWholesaler, CheckoutInput{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	f.sales.AssertNotCalled(t, "CommitSale", mock.Anything, mock.Anything, mock.Anything)
}

// ============================================================================
// FinalizePOSSale Tests
// ============================================================================

func TestFinalizePOSSale_NoPricingForRole(t *testing.T) {
	f := newSaleFixture(t, nil)

	// The product only carries wholesaler tiers; a dealer bill cannot price.
	f.catalog.On("GetProducts", mock.Anything, []string{"prod-1"}).
		Return(map[string]*domain.Product{"prod-1": tieredProduct()}, nil)

	_, err := f.svc.FinalizePOSSale(context.Background(), POSSaleInput{
		CustomerID: "walk-in-7",
		Role:       "dealer",
		Lines:      []POSLineInput{{ProductID: "prod-1", Quantity: 8}},
	})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "no_pricing_data", appErr.Code)
	f.sales.AssertNotCalled(t, "CommitSale", mock.Anything, mock.Anything, mock.Anything)
}

func TestFinalizePOSSale_AggregatesGroupPricing(t *testing.T) {
	f := newSaleFixture(t, nil)

	f.catalog.On("GetProducts", mock.Anything, []string{"prod-1"}).
		Return(map[string]*domain.Product{"prod-1": tieredProduct()}, nil)
	f.sales.On("CommitSale", mock.Anything, mock.AnythingOfType("*domain.Order"), (*domain.CouponUsage)(nil)).Return(nil)

	order, err := f.svc.FinalizePOSSale(context.Background(), POSSaleInput{
		CustomerID: "walk-in-7",
		Role:       "wholesaler",
		Lines: []POSLineInput{
			{ProductID: "prod-1", Quantity: 8},
			{ProductID: "prod-1", Color: "Red", Size: "M", Quantity: 2},
		},
	})
	require.NoError(t, err)

	// 8 + 2 units of one pricing group cross the 10-unit break together.
	assert.Equal(t, domain.ChannelPOS, order.Channel)
	require.Len(t, order.Lines, 2)
	for _, line := range order.Lines {
		assert.Equal(t, int64(80), line.UnitPrice)
	}
	assert.Equal(t, int64(800), order.TotalAmount)
}

func TestFinalizePOSSale_UnknownRole(t *testing.T) {
	f := newSaleFixture(t, nil)

	_, err := f.svc.FinalizePOSSale(context.Background(), POSSaleInput{
		CustomerID: "walk-in-7",
		Role:       "admin",
		Lines:      []POSLineInput{{ProductID: "prod-1", Quantity: 1}},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestFinalizePOSSale_UnknownProduct(t *testing.T) {
	f := newSaleFixture(t, nil)

	f.catalog.On("GetProducts", mock.Anything, []string{"prod-9"}).
		Return(map[string]*domain.Product{}, nil)

	_, err := f.svc.FinalizePOSSale(context.Background(), POSSaleInput{
		CustomerID: "walk-in-7",
		Role:       "wholesaler",
		Lines:      []POSLineInput{{ProductID: "prod-9", Quantity: 1}},
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// ============================================================================
// GetOrder Tests
// ============================================================================

func TestGetOrder_OwnerSeesOrder(t *testing.T) {
	f := newSaleFixture(t, nil)
	f.sales.On("GetOrder", mock.Anything, "order-1").
		Return(&domain.Order{ID: "order-1", UserID: "user-1"}, nil)

	order, err := f.svc.GetOrder(context.Background(), "order-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", order.ID)
}

func TestGetOrder_OtherUserReadsNotFound(t *testing.T) {
	f := newSaleFixture(t, nil)
	f.sales.On("GetOrder", mock.Anything, "order-1").
		Return(&domain.Order{ID: "order-1", UserID: "user-1"}, nil)

	_, err := f.svc.GetOrder(context.Background(), "order-1", "user-2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetOrder_EmptyRequesterIsUnrestricted(t *testing.T) {
	f := newSaleFixture(t, nil)
	f.sales.On("GetOrder", mock.Anything, "order-1").
		Return(&domain.Order{ID: "order-1", UserID: "user-1"}, nil)

	order, err := f.svc.GetOrder(context.Background(), "order-1", "")
	require.NoError(t, err)
	assert.Equal(t, "user-1", order.UserID)
}

// ============================================================================
// Order Status Tests
// ============================================================================

func TestUpdateOrderStatus_UnknownStatus(t *testing.T) {
	f := newSaleFixture(t, nil)

	err := f.svc.UpdateOrderStatus(context.Background(), "order-1", "teleported")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	f.sales.AssertNotCalled(t, "UpdateOrderStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateOrderStatus_Delegates(t *testing.T) {
	f := newSaleFixture(t, nil)

	f.sales.On("UpdateOrderStatus", mock.Anything, "order-1", domain.OrderStatusShipped).Return(nil)

	err := f.svc.UpdateOrderStatus(context.Background(), "order-1", domain.OrderStatusShipped)
	require.NoError(t, err)
	f.sales.AssertExpectations(t)
}
