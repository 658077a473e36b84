package repository

import (
	"context"

	"github.com/merchantry/wholesale-core/internal/domain"
)

// CatalogRepository defines product persistence operations.
type CatalogRepository interface {
	// GetProduct retrieves a product with its variants and tier tables.
	GetProduct(ctx context.Context, id string) (*domain.Product, error)

	// GetProducts retrieves several products keyed by id. Missing ids are
	// simply absent from the result.
	GetProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error)

	// CreateProduct inserts a product with its variants and tier tables.
	CreateProduct(ctx context.Context, p *domain.Product) error

	// ListLowStock returns products whose base or variant stock is at or
	// below the threshold.
	ListLowStock(ctx context.Context, threshold, page, perPage int) ([]domain.Product, int, error)
}

// SaleRepository commits finalized sales: the stock writes and the order row
// in one serializable transaction.
type SaleRepository interface {
	// CommitSale runs the read-validate-write cycle for the order's lines.
	// It locks each distinct product, replays every line against working
	// stock copies, and either writes all new stock values plus the order
	// or returns *domain.StockErrors with every insufficiency found.
	CommitSale(ctx context.Context, order *domain.Order, usage *domain.CouponUsage) error

	// GetOrder retrieves an order with its lines.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrdersByUser returns a user's orders, newest first.
	ListOrdersByUser(ctx context.Context, userID string, page, perPage int) ([]domain.Order, int, error)

	// UpdateOrderStatus moves an order to a new status.
	UpdateOrderStatus(ctx context.Context, id, status string) error
}

// CouponRepository defines coupon and usage-ledger persistence.
type CouponRepository interface {
	// GetByCode retrieves a coupon by its code.
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)

	// Create inserts a new coupon.
	Create(ctx context.Context, c *domain.Coupon) error

	// List returns coupons, newest first.
	List(ctx context.Context, page, perPage int) ([]domain.Coupon, int, error)

	// CountUsagesByUser counts ledger rows for a coupon and user.
	CountUsagesByUser(ctx context.Context, couponID, userID string) (int, error)
}

// CartRepository defines cart persistence operations.
type CartRepository interface {
	// Get retrieves a cart by user ID.
	Get(ctx context.Context, userID string) (*domain.Cart, error)

	// SaveIfVersion persists the cart only if the stored version still
	// matches expectedVersion, bumping the version on success. Returns
	// false when a concurrent writer won.
	SaveIfVersion(ctx context.Context, cart *domain.Cart, expectedVersion int) (bool, error)

	// Delete removes a cart by user ID.
	Delete(ctx context.Context, userID string) error
}
