package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/merchantry/wholesale-core/internal/domain"
	"github.com/merchantry/wholesale-core/internal/repository"
	apperrors "github.com/merchantry/wholesale-core/pkg/errors"
)

// VariantInput is one color/size row of a new product.
type VariantInput struct {
	Color string `json:"color"`
	Size  string `json:"size"`
	Stock int    `json:"stock" validate:"gte=0"`
}

// TierInput is one quantity break of a role's tier table.
type TierInput struct {
	MinQuantity int   `json:"min_quantity" validate:"gte=0"`
	MaxQuantity int   `json:"max_quantity" validate:"gte=0"`
	UnitPrice   int64 `json:"unit_price" validate:"gte=0"`
}

// CreateProductInput holds the parameters for creating a catalog product.
type CreateProductInput struct {
	Name     string                 `json:"name" validate:"required"`
	SKU      string                 `json:"sku" validate:"required"`
	Stock    int                    `json:"stock" validate:"gte=0"`
	Variants []VariantInput         `json:"variants" validate:"dive"`
	Pricing  map[string][]TierInput `json:"pricing" validate:"required,min=1"`
}

// CatalogService implements the catalog read and administration surface.
type CatalogService struct {
	catalog repository.CatalogRepository
	logger  *slog.Logger
}

// NewCatalogService creates a new catalog service.
func NewCatalogService(catalog repository.CatalogRepository, logger *slog.Logger) *CatalogService {
	return &CatalogService{catalog: catalog, logger: logger}
}

// GetProduct retrieves a product with its variants and tier tables.
func (s *CatalogService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}
	return s.catalog.GetProduct(ctx, id)
}

// CreateProduct inserts a new catalog product.
func (s *CatalogService) CreateProduct(ctx context.Context, input CreateProductInput) (*domain.Product, error) {
	pricing := make(map[domain.Role]domain.TierTable, len(input.Pricing))
	for roleName, tiers := range input.Pricing {
		role := domain.Role(roleName)
		if !role.Valid() {
			return nil, apperrors.InvalidInput("unknown role in pricing: " + roleName)
		}
		if len(tiers) == 0 {
			return nil, apperrors.InvalidInput("pricing for role " + roleName + " must have at least one tier")
		}
		seen := make(map[int]bool, len(tiers))
		table := make(domain.TierTable, 0, len(tiers))
		for _, t := range tiers {
			if seen[t.MinQuantity] {
				return nil, apperrors.InvalidInput("duplicate min_quantity in pricing for role " + roleName)
			}
			seen[t.MinQuantity] = true
			table = append(table, domain.TierRow{
				MinQuantity: t.MinQuantity,
				MaxQuantity: t.MaxQuantity,
				UnitPrice:   t.UnitPrice,
			})
		}
		pricing[role] = table
	}

	variants := make([]domain.Variant, len(input.Variants))
	for i, v := range input.Variants {
		variants[i] = domain.Variant{Color: v.Color, Size: v.Size, Stock: v.Stock}
	}

	now := time.Now().UTC()
	product := &domain.Product{
		ID:        uuid.NewString(),
		Name:      input.Name,
		SKU:       input.SKU,
		Stock:     input.Stock,
		Variants:  variants,
		Pricing:   pricing,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.catalog.CreateProduct(ctx, product); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "product created",
		slog.String("product_id", product.ID),
		slog.String("sku", product.SKU),
		slog.Int("variants", len(product.Variants)),
	)
	return product, nil
}

// ListLowStock returns products at or below the stock threshold, paginated.
func (s *CatalogService) ListLowStock(ctx context.Context, threshold, page, perPage int) ([]domain.Product, int, error) {
	if threshold < 0 {
		return nil, 0, apperrors.InvalidInput("threshold must not be negative")
	}
	return s.catalog.ListLowStock(ctx, threshold, page, perPage)
}
