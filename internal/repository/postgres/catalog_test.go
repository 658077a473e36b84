package postgres

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchantry/wholesale-core/internal/domain"
	"github.com/merchantry/wholesale-core/pkg/database"
	apperrors "github.com/merchantry/wholesale-core/pkg/errors"
)

func setupCatalogRepo(t *testing.T) (*CatalogRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	repo := NewCatalogRepository(mock)
	return repo, mock
}

func expectProductQueries(mock pgxmock.PgxPoolIface, ids []string) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, name, sku, stock, created_at, updated_at\\s+FROM products").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "sku", "stock", "created_at", "updated_at"}).
			AddRow("prod-1", "Widget", "WDG-1", 40, now, now))
	mock.ExpectQuery("SELECT product_id, color, size, stock\\s+FROM product_variants").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "color", "size", "stock"}).
			AddRow("prod-1", "Red", "M", 3).
			AddRow("prod-1", "Blue", "L", 2))
	mock.ExpectQuery("SELECT product_id, role, min_quantity, max_quantity, unit_price\\s+FROM price_tiers").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "role", "min_quantity", "max_quantity", "unit_price"}).
			AddRow("prod-1", "wholesaler", 1, 9, int64(100)).
			AddRow("prod-1", "wholesaler", 10, 0, int64(80)).
			AddRow("prod-1", "retail", 1, 0, int64(150)))
}

func TestCatalogRepository_GetProduct(t *testing.T) {
	repo, mock := setupCatalogRepo(t)
	expectProductQueries(mock, []string{"prod-1"})

	p, err := repo.GetProduct(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "Widget", p.Name)
	assert.Len(t, p.Variants, 2)
	assert.Len(t, p.Pricing[domain.RoleWholesaler], 2)
	assert.Len(t, p.Pricing[domain.RoleRetail], 1)

	price, err := p.Pricing[domain.RoleWholesaler].ResolvePrice(10)
	require.NoError(t, err)
	assert.Equal(t, int64(80), price)
}

func TestCatalogRepository_GetProduct_NotFound(t *testing.T) {
	repo, mock := setupCatalogRepo(t)

	mock.ExpectQuery("SELECT id, name, sku, stock, created_at, updated_at\\s+FROM products").
		WithArgs([]string{"missing"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "sku", "stock", "created_at", "updated_at"}))

	_, err := repo.GetProduct(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCatalogRepository_GetProducts_Empty(t *testing.T) {
	repo, _ := setupCatalogRepo(t)

	products, err := repo.GetProducts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestCatalogRepository_CreateProduct(t *testing.T) {
	repo, mock := setupCatalogRepo(t)
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	p := &domain.Product{
		ID:    "prod-9",
		Name:  "Gadget",
		SKU:   "GDG-9",
		Stock: 0,
		Variants: []domain.Variant{
			{Color: "Navy Blue", Size: "XL", Stock: 7},
		},
		Pricing: map[domain.Role]domain.TierTable{
			domain.RoleRetail: {{MinQuantity: 1, MaxQuantity: 0, UnitPrice: 250}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO products").
		WithArgs("prod-9", "Gadget", "GDG-9", 0, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO product_variants").
		WithArgs("prod-9", "navy-blue/xl", "Navy Blue", "XL", 7).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO price_tiers").
		WithArgs("prod-9", "retail", 1, 0, int64(250)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.CreateProduct(context.Background(), p)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_ListLowStock(t *testing.T) {
	repo, mock := setupCatalogRepo(t)
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT COUNT\\(DISTINCT p.id\\)").
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT DISTINCT p.id, p.name").
		WithArgs(5, 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "sku", "stock", "created_at", "updated_at"}).
			AddRow("prod-1", "Widget", "WDG-1", 2, now, now))

	products, total, err := repo.ListLowStock(context.Background(), 5, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, products, 1)
	assert.Equal(t, 2, products[0].Stock)
}
