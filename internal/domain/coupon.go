package domain

import "time"

// Coupon discount types.
const (
	CouponTypePercentage = "percentage"
	CouponTypeFlat       = "flat"
)

// Coupon is a discount code. Value is a percentage for percentage coupons
// and a minor-unit amount for flat coupons. Empty AllowedRoles means every
// role may redeem. MaxUses/MaxUsesPerUser of 0 means unlimited.
type Coupon struct {
	ID             string    `json:"id"`
	Code           string    `json:"code"`
	Type           string    `json:"type"`
	Value          int64     `json:"value"`
	MinOrderAmount int64     `json:"min_order_amount"`
	MaxUses        int       `json:"max_uses"`
	MaxUsesPerUser int       `json:"max_uses_per_user"`
	UsedCount      int       `json:"used_count"`
	AllowedRoles   []Role    `json:"allowed_roles,omitempty"`
	IsActive       bool      `json:"is_active"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RoleAllowed reports whether the role may redeem this coupon.
func (c *Coupon) RoleAllowed(role Role) bool {
	if len(c.AllowedRoles) == 0 {
		return true
	}
	for _, r := range c.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Discount computes the discount for the subtotal, clamped so it never
// exceeds the subtotal.
func (c *Coupon) Discount(subtotal int64) int64 {
	var discount int64
	switch c.Type {
	case CouponTypePercentage:
		discount = subtotal * c.Value / 100
	case CouponTypeFlat:
		discount = c.Value
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

// CouponUsage is one row of the append-only redemption ledger. Per-user
// limits are enforced by counting these rows.
type CouponUsage struct {
	ID        string    `json:"id"`
	CouponID  string    `json:"coupon_id"`
	UserID    string    `json:"user_id"`
	OrderID   string    `json:"order_id"`
	Discount  int64     `json:"discount"`
	CreatedAt time.Time `json:"created_at"`
}
