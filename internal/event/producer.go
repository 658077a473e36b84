package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/merchantry/wholesale-core/internal/domain"
	pkgkafka "github.com/merchantry/wholesale-core/pkg/kafka"
)

// Kafka topic constants for domain events.
const (
	TopicCartUpdated   = "wholesale.cart.updated"
	TopicOrderCreated  = "wholesale.order.created"
	TopicCouponApplied = "wholesale.coupon.applied"
)

// Aggregate type constants.
const (
	AggregateTypeCart  = "cart"
	AggregateTypeOrder = "order"
)

// Source identifier for events originating from this service.
const SourceWholesaleCore = "wholesale-core"

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	UserID        string `json:"user_id"`
	LineCount     int    `json:"line_count"`
	TotalQuantity int    `json:"total_quantity"`
	Subtotal      int64  `json:"subtotal"`
	Version       int    `json:"version"`
}

// OrderCreatedData is the payload for an order.created event.
type OrderCreatedData struct {
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	Channel     string `json:"channel"`
	Subtotal    int64  `json:"subtotal"`
	Discount    int64  `json:"discount"`
	TotalAmount int64  `json:"total_amount"`
	LineCount   int    `json:"line_count"`
	CouponCode  string `json:"coupon_code,omitempty"`
}

// CouponAppliedData is the payload for a coupon.applied event.
type CouponAppliedData struct {
	CouponCode string `json:"coupon_code"`
	UserID     string `json:"user_id"`
	OrderID    string `json:"order_id"`
	Discount   int64  `json:"discount"`
}

// Producer publishes domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishCartUpdated publishes a cart.updated event.
func (p *Producer) PublishCartUpdated(ctx context.Context, cart *domain.Cart) error {
	data := CartUpdatedData{
		UserID:        cart.UserID,
		LineCount:     len(cart.Lines),
		TotalQuantity: cart.TotalQuantity(),
		Subtotal:      cart.Subtotal(),
		Version:       cart.Version,
	}

	event, err := pkgkafka.NewEvent(TopicCartUpdated, cart.UserID, AggregateTypeCart, SourceWholesaleCore, data)
	if err != nil {
		return fmt.Errorf("create cart.updated event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicCartUpdated, event); err != nil {
		return fmt.Errorf("publish cart.updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("user_id", cart.UserID),
		slog.Int("line_count", len(cart.Lines)),
	)

	return nil
}

// PublishOrderCreated publishes an order.created event.
func (p *Producer) PublishOrderCreated(ctx context.Context, order *domain.Order) error {
	data := OrderCreatedData{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Role:        string(order.Role),
		Channel:     order.Channel,
		Subtotal:    order.Subtotal,
		Discount:    order.Discount,
		TotalAmount: order.TotalAmount,
		LineCount:   len(order.Lines),
		CouponCode:  order.CouponCode,
	}

	event, err := pkgkafka.NewEvent(TopicOrderCreated, order.ID, AggregateTypeOrder, SourceWholesaleCore, data)
	if err != nil {
		return fmt.Errorf("create order.created event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicOrderCreated, event); err != nil {
		return fmt.Errorf("publish order.created event: %w", err)
	}

	p.logger.DebugContext(ctx, "published order.created event",
		slog.String("order_id", order.ID),
		slog.String("channel", order.Channel),
	)

	return nil
}

// PublishCouponApplied publishes a coupon.applied event.
func (p *Producer) PublishCouponApplied(ctx context.Context, usage *domain.CouponUsage, code string) error {
	data := CouponAppliedData{
		CouponCode: code,
		UserID:     usage.UserID,
		OrderID:    usage.OrderID,
		Discount:   usage.Discount,
	}

	event, err := pkgkafka.NewEvent(TopicCouponApplied, usage.CouponID, AggregateTypeOrder, SourceWholesaleCore, data)
	if err != nil {
		return fmt.Errorf("create coupon.applied event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicCouponApplied, event); err != nil {
		return fmt.Errorf("publish coupon.applied event: %w", err)
	}

	p.logger.DebugContext(ctx, "published coupon.applied event",
		slog.String("coupon_code", code),
		slog.String("order_id", usage.OrderID),
	)

	return nil
}
