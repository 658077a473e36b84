package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/merchantry/wholesale-core/internal/domain"
	"github.com/merchantry/wholesale-core/internal/event"
	"github.com/merchantry/wholesale-core/internal/repository"
	apperrors "github.com/merchantry/wholesale-core/pkg/errors"
)

// MaxLinesPerCart is the maximum number of distinct lines allowed in a cart.
const MaxLinesPerCart = 100

// AddItemInput holds the parameters for adding one unit to the cart.
type AddItemInput struct {
	ProductID string `json:"product_id" validate:"required"`
	Color     string `json:"color"`
	Size      string `json:"size"`
}

// CartService implements the cart aggregation logic: line merging, pricing
// group recalculation and optimistic persistence.
type CartService struct {
	carts    repository.CartRepository
	catalog  repository.CatalogRepository
	producer *event.Producer
	logger   *slog.Logger
	minimums map[domain.Role]int64
}

// NewCartService creates a new cart service.
func NewCartService(
	carts repository.CartRepository,
	catalog repository.CatalogRepository,
	producer *event.Producer,
	logger *slog.Logger,
	minimums map[domain.Role]int64,
) *CartService {
	return &CartService{
		carts:    carts,
		catalog:  catalog,
		producer: producer,
		logger:   logger,
		minimums: minimums,
	}
}

// GetCart retrieves the user's cart, repriced for the role. A user with no
// stored cart gets an empty one.
func (s *CartService) GetCart(ctx context.Context, userID string, role domain.Role) (*domain.Cart, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}
	if !role.Valid() {
		return nil, apperrors.InvalidInput("unknown role: " + string(role))
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.NewCart(userID), nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	if err := s.reprice(ctx, cart, role); err != nil {
		return nil, err
	}
	return cart, nil
}

// AddItem merges one unit of the product (optionally a specific color/size
// variant) into the cart and reprices every line. An add that would exceed
// the line's stock limit leaves the cart unchanged and is not an error.
func (s *CartService) AddItem(ctx context.Context, userID string, role domain.Role, input AddItemInput) (*domain.Cart, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}
	if !role.Valid() {
		return nil, apperrors.InvalidInput("unknown role: " + string(role))
	}
	if input.ProductID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}

	product, err := s.catalog.GetProduct(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}

	var variant *domain.Variant
	if input.Color != "" || input.Size != "" {
		sig := domain.Variant{Color: input.Color, Size: input.Size}.Signature()
		variant = product.FindVariant(sig)
		if variant == nil {
			return nil, apperrors.NotFound("variant", sig)
		}
	}

	cart, err := s.getOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	expectedVersion := cart.Version

	if len(cart.Lines) >= MaxLinesPerCart {
		if _, exists := cart.Lines[domain.LineID(product.ID, variantSignature(variant))]; !exists {
			return nil, apperrors.InvalidInput(fmt.Sprintf("cart must not contain more than %d lines", MaxLinesPerCart))
		}
	}

	lineID, changed := cart.AddLine(product, variant, role)
	if !changed {
		s.logger.InfoContext(ctx, "add ignored, line at stock limit",
			slog.String("user_id", userID),
			slog.String("line_id", lineID),
		)
		if err := s.reprice(ctx, cart, role); err != nil {
			return nil, err
		}
		return cart, nil
	}

	if err := s.reprice(ctx, cart, role); err != nil {
		return nil, err
	}
	if err := s.save(ctx, cart, expectedVersion); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "item added to cart",
		slog.String("user_id", userID),
		slog.String("line_id", lineID),
		slog.Int("quantity", cart.Lines[lineID].Quantity),
	)
	return cart, nil
}

// RemoveItem removes one unit from a cart line, deleting the line at zero.
func (s *CartService) RemoveItem(ctx context.Context, userID string, role domain.Role, lineID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}
	if lineID == "" {
		return nil, apperrors.InvalidInput("line id is required")
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.NewCart(userID), nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	expectedVersion := cart.Version

	cart.RemoveLine(lineID)

	if err := s.reprice(ctx, cart, role); err != nil {
		return nil, err
	}
	if err := s.save(ctx, cart, expectedVersion); err != nil {
		return nil, err
	}
	return cart, nil
}

// RemoveProductVariant drops every line for the product/variant pair. This is
// the reconciliation surface: after a failed finalization the client removes
// the offending lines and resubmits.
func (s *CartService) RemoveProductVariant(ctx context.Context, userID string, role domain.Role, productID, color, size string) (*domain.Cart, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.NewCart(userID), nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	expectedVersion := cart.Version

	sig := domain.Variant{Color: color, Size: size}.Signature()
	removed := cart.RemoveByProductAndVariant(productID, sig)
	if removed == 0 {
		return cart, nil
	}

	if err := s.reprice(ctx, cart, role); err != nil {
		return nil, err
	}
	if err := s.save(ctx, cart, expectedVersion); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "product removed from cart",
		slog.String("user_id", userID),
		slog.String("product_id", productID),
		slog.Int("lines_removed", removed),
	)
	return cart, nil
}

// ClearCart removes the user's cart entirely.
func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	if userID == "" {
		return apperrors.InvalidInput("user id is required")
	}
	if err := s.carts.Delete(ctx, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// CheckMinimumOrder reports whether the cart meets the role's minimum order
// total and the shortfall in minor units if not.
func (s *CartService) CheckMinimumOrder(ctx context.Context, userID string, role domain.Role) (bool, int64, error) {
	cart, err := s.GetCart(ctx, userID, role)
	if err != nil {
		return false, 0, err
	}
	ok, shortfall := cart.CheckMinimumOrder(role, s.minimums)
	return ok, shortfall, nil
}

func (s *CartService) getOrCreateCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.NewCart(userID), nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return cart, nil
}

// reprice recomputes unit prices and pricing groups for every line from the
// current catalog.
func (s *CartService) reprice(ctx context.Context, cart *domain.Cart, role domain.Role) error {
	if len(cart.Lines) == 0 {
		return nil
	}
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

// save persists the cart with optimistic concurrency and publishes the
// cart.updated event. Publish failures are logged, never surfaced.
func (s *CartService) save(ctx context.Context, cart *domain.Cart, expectedVersion int) error {
	ok, err := s.carts.SaveIfVersion(ctx, cart, expectedVersion)
	if err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	if !ok {
		return apperrors.Conflict("cart was modified concurrently, please retry")
	}

	if err := s.producer.PublishCartUpdated(ctx, cart); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("user_id", cart.UserID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func variantSignature(v *domain.Variant) string {
	if v == nil {
		return ""
	}
	return v.Signature()
}
