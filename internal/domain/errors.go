package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel domain errors.
var (
	// ErrNoPricingData is returned when a product carries no tier table for
	// the requested role.
	ErrNoPricingData = errors.New("no pricing data for role")

	// ErrFinalizeConflict is returned when a stock finalization attempt keeps
	// colliding with concurrent transactions after all retries.
	ErrFinalizeConflict = errors.New("finalization conflict, retry the checkout")
)

// StockInsufficientError reports a single product or variant whose available
// stock cannot cover the requested quantity.
type StockInsufficientError struct {
	ProductID string `json:"product_id"`
	Color     string `json:"color,omitempty"`
	Size      string `json:"size,omitempty"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func (e StockInsufficientError) Error() string {
	if e.Color == "" && e.Size == "" {
		return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
			e.ProductID, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock for product %s variant %s/%s: requested %d, available %d",
		e.ProductID, e.Color, e.Size, e.Requested, e.Available)
}

// StockErrors aggregates every insufficiency found during a finalization
// attempt. Finalization never stops at the first failing line.
type StockErrors struct {
	Errors []StockInsufficientError `json:"errors"`
}

func (e *StockErrors) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, se := range e.Errors {
		msgs[i] = se.Error()
	}
	return strings.Join(msgs, "; ")
}

// Add records one insufficiency.
func (e *StockErrors) Add(se StockInsufficientError) {
	e.Errors = append(e.Errors, se)
}

// Empty reports whether no insufficiency was recorded.
func (e *StockErrors) Empty() bool {
	return len(e.Errors) == 0
}

// Coupon rejection reason codes.
const (
	CouponReasonNotFound       = "coupon_not_found"
	CouponReasonInactive       = "coupon_inactive"
	CouponReasonExpired        = "coupon_expired"
	CouponReasonRoleNotAllowed = "coupon_role_not_allowed"
	CouponReasonBelowMinOrder  = "coupon_below_min_order"
	CouponReasonUsageExceeded  = "coupon_usage_exceeded"
	CouponReasonUserLimit      = "coupon_user_limit_reached"
)

// CouponError is a coupon validation failure with a machine-readable reason.
type CouponError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CouponError) Error() string { return e.Message }

// NewCouponError builds a CouponError for the given reason code.
func NewCouponError(code, message string) *CouponError {
	return &CouponError{Code: code, Message: message}
}
