package postgres

import (
	"context"
	"fmt"

	"github.com/merchantry/wholesale-core/internal/domain"
	"github.com/merchantry/wholesale-core/pkg/database"
	apperrors "github.com/merchantry/wholesale-core/pkg/errors"
)

// CatalogRepository implements repository.CatalogRepository using PostgreSQL.
type CatalogRepository struct {
	pool database.DBTX
}

// NewCatalogRepository creates a new PostgreSQL-backed catalog repository.
func NewCatalogRepository(pool database.DBTX) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetProduct retrieves a product with its variants and tier tables.
func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	products, err := r.GetProducts(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	p, ok := products[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	return p, nil
}

// GetProducts retrieves several products keyed by id.
func (r *CatalogRepository) GetProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error) {
	out := make(map[string]*domain.Product)
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT id, name, sku, stock, created_at, updated_at
		FROM products
		WHERE id = ANY($1)`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Pricing = make(map[domain.Role]domain.TierTable)
		out[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	if err := r.attachVariants(ctx, out, ids); err != nil {
		return nil, err
	}
	if err := r.attachTiers(ctx, out, ids); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *CatalogRepository) attachVariants(ctx context.Context, products map[string]*domain.Product, ids []string) error {
	query := `
		SELECT product_id, color, size, stock
		FROM product_variants
		WHERE product_id = ANY($1)
		ORDER BY product_id, color, size`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID string
		var v domain.Variant
		if err := rows.Scan(&productID, &v.Color, &v.Size, &v.Stock); err != nil {
			return fmt.Errorf("scan variant: %w", err)
		}
		if p, ok := products[productID]; ok {
			p.Variants = append(p.Variants, v)
		}
	}
	return rows.Err()
}

func (r *CatalogRepository) attachTiers(ctx context.Context, products map[string]*domain.Product, ids []string) error {
	query := `
		SELECT product_id, role, min_quantity, max_quantity, unit_price
		FROM price_tiers
		WHERE product_id = ANY($1)
		ORDER BY product_id, role, min_quantity`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("query price tiers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID, role string
		var row domain.TierRow
		if err := rows.Scan(&productID, &role, &row.MinQuantity, &row.MaxQuantity, &row.UnitPrice); err != nil {
			return fmt.Errorf("scan price tier: %w", err)
		}
		if p, ok := products[productID]; ok {
			p.Pricing[domain.Role(role)] = append(p.Pricing[domain.Role(role)], row)
		}
	}
	return rows.Err()
}

// CreateProduct inserts a product with its variants and tier tables in one
// transaction.
func (r *CatalogRepository) CreateProduct(ctx context.Context, p *domain.Product) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO products (id, name, sku, stock, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.SKU, p.Stock, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("product", "sku", p.SKU)
		}
		return fmt.Errorf("insert product: %w", err)
	}

	for _, v := range p.Variants {
		_, err = tx.Exec(ctx, `
			INSERT INTO product_variants (product_id, variant_signature, color, size, stock)
			VALUES ($1, $2, $3, $4, $5)`,
			p.ID, v.Signature(), v.Color, v.Size, v.Stock,
		)
		if err != nil {
			return fmt.Errorf("insert variant: %w", err)
		}
	}

	for role, table := range p.Pricing {
		for _, row := range table {
			_, err = tx.Exec(ctx, `
				INSERT INTO price_tiers (product_id, role, min_quantity, max_quantity, unit_price)
				VALUES ($1, $2, $3, $4, $5)`,
				p.ID, string(role), row.MinQuantity, row.MaxQuantity, row.UnitPrice,
			)
			if err != nil {
				return fmt.Errorf("insert price tier: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create product: %w", err)
	}
	return nil
}

// ListLowStock returns products whose base or variant stock is at or below
// the threshold, paginated.
func (r *CatalogRepository) ListLowStock(ctx context.Context, threshold, page, perPage int) ([]domain.Product, int, error) {
	countQuery := `
		SELECT COUNT(DISTINCT p.id)
		FROM products p
		LEFT JOIN product_variants v ON v.product_id = p.id
		WHERE p.stock <= $1 OR v.stock <= $1`

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, threshold).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count low stock: %w", err)
	}

	query := `
		SELECT DISTINCT p.id, p.name, p.sku, p.stock, p.created_at, p.updated_at
		FROM products p
		LEFT JOIN product_variants v ON v.product_id = p.id
		WHERE p.stock <= $1 OR v.stock <= $1
		ORDER BY p.stock ASC, p.id
		LIMIT $2 OFFSET $3`

	offset := (page - 1) * perPage
	rows, err := r.pool.Query(ctx, query, threshold, perPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query low stock: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan low stock product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate low stock: %w", err)
	}
	return products, total, nil
}
