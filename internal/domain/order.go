package domain

import "time"

// Order status constants.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// Order sales channels.
const (
	ChannelStorefront = "storefront"
	ChannelPOS        = "pos"
)

// OrderLine is a captured cart line. UnitPrice is the price in effect at
// finalization; later catalog changes never alter it.
type OrderLine struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	Color     string `json:"color,omitempty"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Total returns the line total in minor units.
func (l OrderLine) Total() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Order is a finalized sale. It exists only if the stock write succeeded;
// the order row and the stock decrements commit in the same transaction.
type Order struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Role        Role        `json:"role"`
	Lines       []OrderLine `json:"lines"`
	Subtotal    int64       `json:"subtotal"`
	Discount    int64       `json:"discount"`
	ShippingFee int64       `json:"shipping_fee"`
	TotalAmount int64       `json:"total_amount"`
	Status      string      `json:"status"`
	Channel     string      `json:"channel"`
	CouponCode  string      `json:"coupon_code,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ValidStatusTransition reports whether an order may move between the two
// statuses. Cancelled and delivered are terminal.
func ValidStatusTransition(from, to string) bool {
	transitions := map[string][]string{
		OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
		OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
		OrderStatusShipped:    {OrderStatusDelivered},
	}
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
