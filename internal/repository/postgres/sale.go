package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/merchantry/wholesale-core/internal/domain"
	"github.com/merchantry/wholesale-core/pkg/database"
	apperrors "github.com/merchantry/wholesale-core/pkg/errors"
)

// SaleRepository implements repository.SaleRepository using PostgreSQL.
type SaleRepository struct {
	pool database.DBTX
}

// NewSaleRepository creates a new PostgreSQL-backed sale repository.
func NewSaleRepository(pool database.DBTX) *SaleRepository {
	return &SaleRepository{pool: pool}
}

// lockedStock is the working copy of one product's stock inside a
// finalization transaction. Variant stock is keyed by normalized signature.
type lockedStock struct {
	base     int
	variants map[string]int
	hasRows  bool
}

// CommitSale runs the whole read-validate-write cycle in one serializable
// transaction. Each distinct product is locked once with FOR UPDATE, every
// order line is replayed against the in-memory working copy, and all
// insufficiencies are collected before deciding. Either every stock value and
// the order row commit together, or nothing does.
//
// Serialization and deadlock failures are wrapped with
// domain.ErrFinalizeConflict so the caller can retry the attempt.
func (r *SaleRepository) CommitSale(ctx context.Context, order *domain.Order, usage *domain.CouponUsage) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin sale transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stocks, err := r.lockProducts(ctx, tx, order)
	if err != nil {
		return wrapRetryable(err)
	}

	stockErrs := replayLines(order.Lines, stocks)
	if !stockErrs.Empty() {
		return stockErrs
	}

	if err := r.writeStocks(ctx, tx, stocks); err != nil {
		return wrapRetryable(err)
	}
	if err := r.insertOrder(ctx, tx, order); err != nil {
		return wrapRetryable(err)
	}
	if usage != nil {
		if err := r.insertUsage(ctx, tx, usage); err != nil {
			return wrapRetryable(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapRetryable(fmt.Errorf("commit sale: %w", err))
	}
	return nil
}

// lockProducts takes one FOR UPDATE read per distinct product in the order
// and builds working stock copies. Products are locked in sorted id order to
// keep lock acquisition deterministic.
func (r *SaleRepository) lockProducts(ctx context.Context, tx pgx.Tx, order *domain.Order) (map[string]*lockedStock, error) {
	ids := make([]string, 0, len(order.Lines))
	seen := make(map[string]bool)
	for _, line := range order.Lines {
		if !seen[line.ProductID] {
			seen[line.ProductID] = true
			ids = append(ids, line.ProductID)
		}
	}
	sort.Strings(ids)

	stocks := make(map[string]*lockedStock, len(ids))
	for _, id := range ids {
		ls := &lockedStock{variants: make(map[string]int)}

		err := tx.QueryRow(ctx,
			`SELECT stock FROM products WHERE id = $1 FOR UPDATE`, id,
		).Scan(&ls.base)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, apperrors.NotFound("product", id)
			}
			return nil, fmt.Errorf("lock product %s: %w", id, err)
		}

		rows, err := tx.Query(ctx,
			`SELECT color, size, stock FROM product_variants WHERE product_id = $1 FOR UPDATE`, id,
		)
		if err != nil {
			return nil, fmt.Errorf("lock variants of %s: %w", id, err)
		}
		for rows.Next() {
			var color, size string
			var stock int
			if err := rows.Scan(&color, &size, &stock); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan variant stock: %w", err)
			}
			sig := domain.Variant{Color: color, Size: size}.Signature()
			ls.variants[sig] = stock
			ls.hasRows = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate variant stock: %w", err)
		}

		stocks[id] = ls
	}
	return stocks, nil
}

// replayLines applies every order line against the working copies and
// collects all insufficiencies. The working copies are mutated as lines
// apply, so two lines hitting the same variant are validated against the
// running remainder, not the original value.
func replayLines(lines []domain.OrderLine, stocks map[string]*lockedStock) *domain.StockErrors {
	stockErrs := &domain.StockErrors{}
	for _, line := range lines {
		ls, ok := stocks[line.ProductID]
		if !ok {
			stockErrs.Add(domain.StockInsufficientError{
				ProductID: line.ProductID,
				Color:     line.Color,
				Size:      line.Size,
				Requested: line.Quantity,
				Available: 0,
			})
			continue
		}

		sig := domain.Variant{Color: line.Color, Size: line.Size}.Signature()
		if sig != "" && ls.hasRows {
			available, found := ls.variants[sig]
			if !found || available < line.Quantity {
				stockErrs.Add(domain.StockInsufficientError{
					ProductID: line.ProductID,
					Color:     line.Color,
					Size:      line.Size,
					Requested: line.Quantity,
					Available: available,
				})
				continue
			}
			ls.variants[sig] = available - line.Quantity
			continue
		}

		if ls.base < line.Quantity {
			stockErrs.Add(domain.StockInsufficientError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: ls.base,
			})
			continue
		}
		ls.base -= line.Quantity
	}
	return stockErrs
}

// writeStocks persists every working copy back, including variants untouched
// by the order (their values are unchanged, the write is idempotent).
func (r *SaleRepository) writeStocks(ctx context.Context, tx pgx.Tx, stocks map[string]*lockedStock) error {
	ids := make([]string, 0, len(stocks))
	for id := range stocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		ls := stocks[id]
		_, err := tx.Exec(ctx,
			`UPDATE products SET stock = $1, updated_at = NOW() WHERE id = $2`,
			ls.base, id,
		)
		if err != nil {
			return fmt.Errorf("update product stock %s: %w", id, err)
		}

		sigs := make([]string, 0, len(ls.variants))
		for sig := range ls.variants {
			sigs = append(sigs, sig)
		}
		sort.Strings(sigs)
		for _, sig := range sigs {
			_, err := tx.Exec(ctx, `
				UPDATE product_variants SET stock = $1
				WHERE product_id = $2 AND variant_signature = $3`,
				ls.variants[sig], id, sig,
			)
			if err != nil {
				return fmt.Errorf("update variant stock %s/%s: %w", id, sig, err)
			}
		}
	}
	return nil
}

func (r *SaleRepository) insertOrder(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, role, subtotal, discount, shipping_fee, total_amount, status, channel, coupon_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		order.ID, order.UserID, string(order.Role), order.Subtotal, order.Discount,
		order.ShippingFee, order.TotalAmount, order.Status, order.Channel,
		nullable(order.CouponCode), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, line := range order.Lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO order_lines (order_id, product_id, name, sku, color, size, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			order.ID, line.ProductID, line.Name, line.SKU, line.Color, line.Size,
			line.Quantity, line.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return nil
}

// insertUsage appends the coupon redemption to the ledger and bumps the
// global counter inside the same transaction as the order. The increment is
// conditional on used_count still being under max_uses: the validation that
// ran before the transaction saw a snapshot, so a concurrent redemption may
// have taken the last slot. Zero rows affected means the cap is reached and
// the whole sale rolls back.
func (r *SaleRepository) insertUsage(ctx context.Context, tx pgx.Tx, usage *domain.CouponUsage) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO coupon_usages (id, coupon_id, user_id, order_id, discount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		usage.ID, usage.CouponID, usage.UserID, usage.OrderID, usage.Discount, usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert coupon usage: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE coupons SET used_count = used_count + 1, updated_at = NOW()
		WHERE id = $1 AND (max_uses = 0 OR used_count < max_uses)`,
		usage.CouponID,
	)
	if err != nil {
		return fmt.Errorf("increment coupon usage count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewCouponError(domain.CouponReasonUsageExceeded,
			"coupon has reached its usage limit")
	}
	return nil
}

// GetOrder retrieves an order with its lines.
func (r *SaleRepository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	query := `
		SELECT id, user_id, role, subtotal, discount, shipping_fee, total_amount, status, channel, COALESCE(coupon_code, ''), created_at, updated_at
		FROM orders
		WHERE id = $1`

	var o domain.Order
	var role string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.UserID, &role, &o.Subtotal, &o.Discount, &o.ShippingFee,
		&o.TotalAmount, &o.Status, &o.Channel, &o.CouponCode, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Role = domain.Role(role)

	rows, err := r.pool.Query(ctx, `
		SELECT product_id, name, sku, color, size, quantity, unit_price
		FROM order_lines
		WHERE order_id = $1
		ORDER BY product_id, color, size`, id)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ProductID, &line.Name, &line.SKU, &line.Color, &line.Size, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		o.Lines = append(o.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return &o, nil
}

// ListOrdersByUser returns a user's orders without lines, newest first.
func (r *SaleRepository) ListOrdersByUser(ctx context.Context, userID string, page, perPage int) ([]domain.Order, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	query := `
		SELECT id, user_id, role, subtotal, discount, shipping_fee, total_amount, status, channel, COALESCE(coupon_code, ''), created_at, updated_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	offset := (page - 1) * perPage
	rows, err := r.pool.Query(ctx, query, userID, perPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var role string
		if err := rows.Scan(
			&o.ID, &o.UserID, &role, &o.Subtotal, &o.Discount, &o.ShippingFee,
			&o.TotalAmount, &o.Status, &o.Channel, &o.CouponCode, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		o.Role = domain.Role(role)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, total, nil
}

// UpdateOrderStatus moves an order to a new status, enforcing the transition
// table.
func (r *SaleRepository) UpdateOrderStatus(ctx context.Context, id, status string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("order", id)
		}
		return fmt.Errorf("lock order: %w", err)
	}

	if !domain.ValidStatusTransition(current, status) {
		return apperrors.Conflict("invalid status transition from " + current + " to " + status)
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return tx.Commit(ctx)
}

// wrapRetryable tags serialization and deadlock failures so the service layer
// can retry the whole attempt.
func wrapRetryable(err error) error {
	if isSerializationFailure(err) {
		return fmt.Errorf("%w: %v", domain.ErrFinalizeConflict, err)
	}
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
