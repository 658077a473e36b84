package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/merchantry/wholesale-core/internal/domain"
	"github.com/merchantry/wholesale-core/internal/repository"
	apperrors "github.com/merchantry/wholesale-core/pkg/errors"
)

// CreateCouponInput holds the parameters for creating a coupon.
type CreateCouponInput struct {
	Code           string    `json:"code" validate:"required,min=3,max=64"`
	Type           string    `json:"type" validate:"required,oneof=percentage flat"`
	Value          int64     `json:"value" validate:"required,gt=0"`
	MinOrderAmount int64     `json:"min_order_amount" validate:"gte=0"`
	MaxUses        int       `json:"max_uses" validate:"gte=0"`
	MaxUsesPerUser int       `json:"max_uses_per_user" validate:"gte=0"`
	AllowedRoles   []string  `json:"allowed_roles" validate:"dive,oneof=retail wholesaler distributor dealer vip"`
	ExpiresAt      time.Time `json:"expires_at" validate:"required"`
}

// CouponService implements coupon validation and administration.
type CouponService struct {
	coupons repository.CouponRepository
	logger  *slog.Logger
}

// NewCouponService creates a new coupon service.
func NewCouponService(coupons repository.CouponRepository, logger *slog.Logger) *CouponService {
	return &CouponService{coupons: coupons, logger: logger}
}

// Validate checks a coupon against the user, role and subtotal and returns
// the coupon with its computed discount. The checks run in a fixed order so
// each failure surfaces its most specific reason: inactive, expired, role,
// minimum order, global usage, then per-user usage. The global usage check
// here reads a snapshot; the finalize transaction re-enforces the cap when
// it increments the counter.
func (s *CouponService) Validate(ctx context.Context, code, userID string, role domain.Role, subtotal int64) (*domain.Coupon, int64, error) {
	if code == "" {
		return nil, 0, apperrors.InvalidInput("coupon code is required")
	}

	coupon, err := s.coupons.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, 0, domain.NewCouponError(domain.CouponReasonNotFound, "coupon "+code+" does not exist")
		}
		return nil, 0, fmt.Errorf("load coupon: %w", err)
	}

	if !coupon.IsActive {
		return nil, 0, domain.NewCouponError(domain.CouponReasonInactive, "coupon "+code+" is not active")
	}
	if time.Now().UTC().After(coupon.ExpiresAt) {
		return nil, 0, domain.NewCouponError(domain.CouponReasonExpired, "coupon "+code+" has expired")
	}
	if !coupon.RoleAllowed(role) {
		return nil, 0, domain.NewCouponError(domain.CouponReasonRoleNotAllowed, "coupon "+code+" is not available for role "+string(role))
	}
	if subtotal < coupon.MinOrderAmount {
		return nil, 0, domain.NewCouponError(domain.CouponReasonBelowMinOrder,
			fmt.Sprintf("order subtotal %d is below the coupon minimum %d", subtotal, coupon.MinOrderAmount))
	}
	if coupon.MaxUses > 0 && coupon.UsedCount >= coupon.MaxUses {
		return nil, 0, domain.NewCouponError(domain.CouponReasonUsageExceeded, "coupon "+code+" has reached its usage limit")
	}
	if coupon.MaxUsesPerUser > 0 {
		used, err := s.coupons.CountUsagesByUser(ctx, coupon.ID, userID)
		if err != nil {
			return nil, 0, fmt.Errorf("count coupon usages: %w", err)
		}
		if used >= coupon.MaxUsesPerUser {
			return nil, 0, domain.NewCouponError(domain.CouponReasonUserLimit, "coupon "+code+" already used the maximum number of times")
		}
	}

	return coupon, coupon.Discount(subtotal), nil
}

// CreateCoupon inserts a new coupon.
func (s *CouponService) CreateCoupon(ctx context.Context, input CreateCouponInput) (*domain.Coupon, error) {
	if input.ExpiresAt.Before(time.Now().UTC()) {
		return nil, apperrors.InvalidInput("expires_at must be in the future")
	}

	roles := make([]domain.Role, len(input.AllowedRoles))
	for i, r := range input.AllowedRoles {
		roles[i] = domain.Role(r)
	}

	now := time.Now().UTC()
	coupon := &domain.Coupon{
		ID:             uuid.NewString(),
		Code:           input.Code,
		Type:           input.Type,
		Value:          input.Value,
		MinOrderAmount: input.MinOrderAmount,
		MaxUses:        input.MaxUses,
		MaxUsesPerUser: input.MaxUsesPerUser,
		AllowedRoles:   roles,
		IsActive:       true,
		ExpiresAt:      input.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.coupons.Create(ctx, coupon); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "coupon created",
		slog.String("coupon_id", coupon.ID),
		slog.String("code", coupon.Code),
		slog.String("type", coupon.Type),
	)
	return coupon, nil
}

// ListCoupons returns coupons, newest first.
func (s *CouponService) ListCoupons(ctx context.Context, page, perPage int) ([]domain.Coupon, int, error) {
	return s.coupons.List(ctx, page, perPage)
}
