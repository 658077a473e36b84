package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/merchantry/wholesale-core/internal/domain"
	"github.com/merchantry/wholesale-core/pkg/database"
	apperrors "github.com/merchantry/wholesale-core/pkg/errors"
)

// CouponRepository implements repository.CouponRepository using PostgreSQL.
type CouponRepository struct {
	pool database.DBTX
}

// NewCouponRepository creates a new PostgreSQL-backed coupon repository.
func NewCouponRepository(pool database.DBTX) *CouponRepository {
	return &CouponRepository{pool: pool}
}

const couponColumns = `id, code, type, value, min_order_amount, max_uses, max_uses_per_user, used_count, allowed_roles, is_active, expires_at, created_at, updated_at`

// GetByCode retrieves a coupon by its code.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	c, err := scanCoupon(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("coupon", code)
		}
		return nil, fmt.Errorf("get coupon by code: %w", err)
	}
	return c, nil
}

// Create inserts a new coupon.
func (r *CouponRepository) Create(ctx context.Context, c *domain.Coupon) error {
	roles := make([]string, len(c.AllowedRoles))
	for i, role := range c.AllowedRoles {
		roles[i] = string(role)
	}

	query := `
		INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.Code, c.Type, c.Value, c.MinOrderAmount, c.MaxUses, c.MaxUsesPerUser,
		c.UsedCount, roles, c.IsActive, c.ExpiresAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("coupon", "code", c.Code)
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

// List returns coupons, newest first.
func (r *CouponRepository) List(ctx context.Context, page, perPage int) ([]domain.Coupon, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM coupons`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count coupons: %w", err)
	}

	query := `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	offset := (page - 1) * perPage
	rows, err := r.pool.Query(ctx, query, perPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query coupons: %w", err)
	}
	defer rows.Close()

	var coupons []domain.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan coupon: %w", err)
		}
		coupons = append(coupons, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate coupons: %w", err)
	}
	return coupons, total, nil
}

// CountUsagesByUser counts ledger rows for a coupon and user.
func (r *CouponRepository) CountUsagesByUser(ctx context.Context, couponID, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`,
		couponID, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count coupon usages: %w", err)
	}
	return count, nil
}

func scanCoupon(row pgx.Row) (*domain.Coupon, error) {
	var c domain.Coupon
	var roles []string
	err := row.Scan(
		&c.ID, &c.Code, &c.Type, &c.Value, &c.MinOrderAmount, &c.MaxUses,
		&c.MaxUsesPerUser, &c.UsedCount, &roles, &c.IsActive, &c.ExpiresAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.AllowedRoles = make([]domain.Role, len(roles))
	for i, role := range roles {
		c.AllowedRoles[i] = domain.Role(role)
	}
	if len(c.AllowedRoles) == 0 {
		c.AllowedRoles = nil
	}
	return &c, nil
}
