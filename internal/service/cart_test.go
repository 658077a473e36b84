package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/merchantry/wholesale-core/internal/domain"
	apperrors "github.com/merchantry/wholesale-core/pkg/errors"
)

func newTestCartService(t *testing.T, carts *mockCartRepository, catalog *mockCatalogRepository) *CartService {
	t.Helper()
	minimums := map[domain.Role]int64{domain.RoleWholesaler: 50000}
	return NewCartService(carts, catalog, newTestProducer(t), newTestLogger(), minimums)
}

func tieredProduct() *domain.Product {
	return &domain.Product{
		ID:    "prod-1",
		Name:  "Canvas Tote",
		SKU:   "TOTE-01",
		Stock: 40,
		Variants: []domain.Variant{
			{Color: "Red", Size: "M", Stock: 3},
			{Color: "Blue", Size: "L", Stock: 0},
		},
		Pricing: map[domain.Role]domain.TierTable{
			domain.RoleWholesaler: {
				{MinQuantity: 1, MaxQuantity: 9, UnitPrice: 100},
				{MinQuantity: 10, MaxQuantity: 0, UnitPrice: 80},
			},
		},
	}
}

// ============================================================================
// GetCart Tests
// ============================================================================

func TestGetCart_EmptyWhenMissing(t *testing.T) {
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newTestCartService(t, carts, catalog)

	carts.On("Get", mock.Anything, "user-1").Return(nil, apperrors.NotFound("cart", "user-1"))

	cart, err := svc.GetCart(context.Background(), "user-1", domain.RoleWholesaler)
	require.NoError(t, err)
	assert.Empty(t, cart.Lines)
	assert.Equal(t, "user-1", cart.UserID)
}

func TestGetCart_RepricesOnRead(t *testing.T) {
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newTestCartService(t, carts, catalog)

	stored := domain.NewCart("user-1")
	stored.Lines["prod-1"] = domain.CartLine{ProductID: "prod-1", Quantity: 12, StockLimit: 40, UnitPrice: 999}
	stored.Version = 3

	carts.On("Get", mock.Anything, "user-1").Return(stored, nil)
	catalog.On("GetProducts", mock.Anything, []string{"prod-1"}).
		Return(map[string]*domain.Product{"prod-1": tieredProduct()}, nil)

	cart, err := svc.GetCart(context.Background(), "user-1", domain.RoleWholesaler)
	require.NoError(t, err)
	assert.Equal(t, int64(80), cart.Lines["prod-1"].UnitPrice)
}

func TestGetCart_UnknownRole(t *testing.T) {
	svc := newTestCartService(t, new(mockCartRepository), new(mockCatalogRepository))

	_, err := svc.GetCart(context.Background(), "user-1", domain.Role("superuser"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// ============================================================================
// AddItem Tests
// ============================================================================

func TestAddItem_NewLine(t *testing.T) {
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newTestCartService(t, carts, catalog)

	catalog.On("GetProduct", mock.Anything, "prod-1").Return(tieredProduct(), nil)
	carts.On("Get", mock.Anything, "user-1").Return(nil, apperrors.NotFound("cart", "user-1"))
	catalog.On("GetProducts", mock.Anything, []string{"prod-1"}).
		Return(map[string]*domain.Product{"prod-1": tieredProduct()}, nil)
	carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 0).Return(true, nil)

	cart, err := svc.AddItem(context.Background(), "user-1", domain.RoleWholesaler, AddItemInput{ProductID: "prod-1"})
	require.NoError(t, err)
	require.Contains(t, cart.Lines, "prod-1")
	assert.Equal(t, 1, cart.Lines["prod-1"].Quantity)
	assert.Equal(t, int64(100), cart.Lines["prod-1"].UnitPrice)
	carts.AssertExpectations(t)
}

func TestAddItem_VariantLine(t *testing.T) {
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newTestCartService(t, carts, catalog)

	catalog.On("GetProduct", mock.Anything, "prod-1").Return(tieredProduct(), nil)
	carts.On("Get", mock.Anything, "user-1").Return(nil, apperrors.NotFound("cart", "user-1"))
	catalog.On("GetProducts", mock.Anything, []string{"prod-1"}).
		Return(map[string]*domain.Product{"prod-1": tieredProduct()}, nil)
	carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 0).Return(true, nil)

	cart, err := svc.AddItem(context.Background(), "user-1", domain.RoleWholesaler,
		AddItemInput{ProductID: "prod-1", Color: "Red", Size: "M"})
	require.NoError(t, err)
	require.Contains(t, cart.Lines, "prod-1#red/m")
	assert.Equal(t, "Red", cart.Lines["prod-1#red/m"].Color)
}

func TestAddItem_UnknownVariant(t *testing.T) {
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newTestCartService(t, carts, catalog)

	catalog.On("GetProduct", mock.Anything, "prod-1").Return(tieredProduct(), nil)

	_, err := svc.AddItem(context.Background(), "user-1", domain.RoleWholesaler,
		AddItemInput{ProductID: "prod-1", Color: "Green", Size: "XS"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAddItem_AtStockLimitIsNoOp(t *testing.T) {
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newTestCartService(t, carts, catalog)

	stored := domain.NewCart("user-1")
	stored.Lines["prod-1#red/m"] = domain.CartLine{
		ProductID: "prod-1", Color: "Red", Size: "M", Quantity: 3, StockLimit: 3,
	}
	stored.Version = 2

	catalog.On("GetProduct", mock.Anything, "prod-1").Return(tieredProduct(), nil)
	carts.On("Get", mock.Anything, "user-1").Return(stored, nil)
	catalog.On("GetProducts", mock.Anything, []string{"prod-1"}).
		Return(map[string]*domain.Product{"prod-1": tieredProduct()}, nil)

	cart, err := svc.AddItem(context.Background(), "user-1", domain.RoleWholesaler,
		AddItemInput{ProductID: "prod-1", Color: "Red", Size: "M"})
	require.NoError(t, err)
	assert.Equal(t, 3, cart.Lines["prod-1#red/m"].Quantity)
	// The unchanged cart is never written back.
	carts.AssertNotCalled(t, "SaveIfVersion", mock.Anything, mock.Anything, mock.Anything)
}

func TestAddItem_VersionConflict(t *testing.T) {
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newTestCartService(t, carts, catalog)

	catalog.On("GetProduct", mock.Anything, "prod-1").Return(tieredProduct(), nil)
	carts.On("Get", mock.Anything, "user-1").Return(nil, apperrors.NotFound("cart", "user-1"))
	catalog.On("GetProducts", mock.Anything, []string{"prod-1"}).
		Return(map[string]*domain.Product{"prod-1": tieredProduct()}, nil)
	carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 0).Return(false, nil)

	_, err := svc.AddItem(context.Background(), "user-1", domain.RoleWholesaler, AddItemInput{ProductID: "prod-1"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestAddItem_NoPricingDataForRole(t *testing.T) {
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newTestCartService(t, carts, catalog)

	catalog.On("GetProduct", mock.Anything, "prod-1").Return(tieredProduct(), nil)
	carts.On("Get", mock.Anything, "user-1").Return(nil, apperrors.NotFound("cart", "user-1"))
	catalog.On("GetProducts", mock.Anything, []string{"prod-1"}).
		Return(map[string]*domain.Product{"prod-1": tieredProduct()}, nil)

	// The product only carries wholesaler tiers.
	_, err := svc.AddItem(context.Background(), "user-1", domain.RoleRetail, AddItemInput{ProductID: "prod-1"})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "no_pricing_data", appErr.Code)
}

// ============================================================================
// RemoveItem / RemoveProductVariant Tests
// ============================================================================

func TestRemoveItem_DecrementsAndSaves(t *testing.T) {
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newTestCartService(t, carts, catalog)

	stored := domain.NewCart("user-1")
	stored.Lines["prod-1"] = domain.CartLine{ProductID: "prod-1", Quantity: 2, StockLimit: 40}
	stored.Version = 4

	carts.On("Get", mock.Anything, "user-1").Return(stored, nil)
	catalog.On("GetProducts", mock.Anything, []string{"prod-1"}).
		Return(map[string]*domain.Product{"prod-1": tieredProduct()}, nil)
	carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 4).Return(true, nil)

	cart, err := svc.RemoveItem(context.Background(), "user-1", domain.RoleWholesaler, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cart.Lines["prod-1"].Quantity)
}

func TestRemoveProductVariant_DropsAllMatchingLines(t *testing.T) {
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newTestCartService(t, carts, catalog)

	stored := domain.NewCart("user-1")
	stored.Lines["prod-1#red/m"] = domain.CartLine{ProductID: "prod-1", Color: "Red", Size: "M", Quantity: 2, StockLimit: 3}
	stored.Lines["prod-2"] = domain.CartLine{ProductID: "prod-2", Quantity: 1, StockLimit: 5}
	stored.Version = 1

	carts.On("Get", mock.Anything, "user-1").Return(stored, nil)
	catalog.On("GetProducts", mock.Anything, []string{"prod-2"}).
		Return(map[string]*domain.Product{"prod-2": func() *domain.Product {
			p := tieredProduct()
			p.ID = "prod-2"
			return p
		}()}, nil)
	carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 1).Return(true, nil)

	cart, err := svc.RemoveProductVariant(context.Background(), "user-1", domain.RoleWholesaler, "prod-1", "Red", "M")
	require.NoError(t, err)
	assert.NotContains(t, cart.Lines, "prod-1#red/m")
	assert.Contains(t, cart.Lines, "prod-2")
}

func TestRemoveProductVariant_NothingToRemove(t *testing.T) {
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newTestCartService(t, carts, catalog)

	stored := domain.NewCart("user-1")
	stored.Lines["prod-2"] = domain.CartLine{ProductID: "prod-2", Quantity: 1, StockLimit: 5}
	carts.On("Get", mock.Anything, "user-1").Return(stored, nil)

	cart, err := svc.RemoveProductVariant(context.Background(), "user-1", domain.RoleWholesaler, "prod-9", "", "")
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 1)
	carts.AssertNotCalled(t, "SaveIfVersion", mock.Anything, mock.Anything, mock.Anything)
}

// ============================================================================
// Minimum Order Tests
// ============================================================================

func TestCheckMinimumOrder_Shortfall(t *testing.T) {
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newTestCartService(t, carts, catalog)

	stored := domain.NewCart("user-1")
	stored.Lines["prod-1"] = domain.CartLine{ProductID: "prod-1", Quantity: 10, StockLimit: 40}

	carts.On("Get", mock.Anything, "user-1").Return(stored, nil)
	catalog.On("GetProducts", mock.Anything, []string{"prod-1"}).
		Return(map[string]*domain.Product{"prod-1": tieredProduct()}, nil)

	ok, shortfall, err := svc.CheckMinimumOrder(context.Background(), "user-1", domain.RoleWholesaler)
	require.NoError(t, err)
	assert.False(t, ok)
	// 10 units at tier price 80 = 800 against a 50000 minimum.
	assert.Equal(t, int64(49200), shortfall)
}

func TestCheckMinimumOrder_RoleWithoutMinimum(t *testing.T) {
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newTestCartService(t, carts, catalog)

	carts.On("Get", mock.Anything, "user-1").Return(nil, apperrors.NotFound("cart", "user-1"))

	ok, shortfall, err := svc.CheckMinimumOrder(context.Background(), "user-1", domain.RoleVIP)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, shortfall)
}
