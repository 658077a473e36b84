package domain

import (
	"sort"
	"time"
)

// CartLine is one product/variant entry in a cart. UnitPrice and GroupID are
// recomputed by RecalculateAll whenever line quantities change.
type CartLine struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	Color      string `json:"color,omitempty"`
	Size       string `json:"size,omitempty"`
	Quantity   int    `json:"quantity"`
	StockLimit int    `json:"stock_limit"`
	UnitPrice  int64  `json:"unit_price"`
	GroupID    string `json:"group_id"`
}

// Signature returns the line's normalized variant signature.
func (l CartLine) Signature() string {
	return Variant{Color: l.Color, Size: l.Size}.Signature()
}

// LineID builds the deterministic cart line key for a product and variant
// signature: the same product/variant always lands on the same line.
func LineID(productID, signature string) string {
	if signature == "" {
		return productID
	}
	return productID + "#" + signature
}

// Cart is a per-user cart persisted in Redis. Version backs the optimistic
// save: a write only succeeds against the version it was read at.
type Cart struct {
	UserID    string              `json:"user_id"`
	Lines     map[string]CartLine `json:"lines"`
	Version   int                 `json:"version"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// NewCart returns an empty cart for the user.
func NewCart(userID string) *Cart {
	now := time.Now().UTC()
	return &Cart{
		UserID:    userID,
		Lines:     make(map[string]CartLine),
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddLine merges one unit of the product/variant into the cart. An add that
// would push the line past its stock limit is a silent no-op: the cart stays
// valid and the caller sees the unchanged state. Returns the line id and
// whether the cart changed.
func (c *Cart) AddLine(product *Product, variant *Variant, role Role) (string, bool) {
	sig := ""
	if variant != nil {
		sig = variant.Signature()
	}
	id := LineID(product.ID, sig)

	line, exists := c.Lines[id]
	if !exists {
		limit := product.Stock
		if variant != nil {
			limit = variant.Stock
		}
		line = CartLine{
			ProductID:  product.ID,
			Name:       product.Name,
			SKU:        product.SKU,
			Quantity:   0,
			StockLimit: limit,
		}
		if variant != nil {
			line.Color = variant.Color
			line.Size = variant.Size
		}
	}
	if line.Quantity+1 > line.StockLimit {
		return id, false
	}
	line.Quantity++
	c.Lines[id] = line
	c.UpdatedAt = time.Now().UTC()
	return id, true
}

// RemoveLine decrements the line by one unit and deletes it when the last
// unit is removed. Removing an absent line is a no-op.
func (c *Cart) RemoveLine(lineID string) {
	line, ok := c.Lines[lineID]
	if !ok {
		return
	}
	line.Quantity--
	if line.Quantity <= 0 {
		delete(c.Lines, lineID)
	} else {
		c.Lines[lineID] = line
	}
	c.UpdatedAt = time.Now().UTC()
}

// RemoveByProductAndVariant drops every line matching the product and
// normalized variant signature. An empty signature matches the no-variant
// line only. Returns the number of lines removed.
func (c *Cart) RemoveByProductAndVariant(productID, signature string) int {
	removed := 0
	for id, line := range c.Lines {
		if line.ProductID == productID && line.Signature() == signature {
			delete(c.Lines, id)
			removed++
		}
	}
	if removed > 0 {
		c.UpdatedAt = time.Now().UTC()
	}
	return removed
}

// RecalculateAll reprices every line for the role. Lines are partitioned by
// the pricing-group id of their role tier table; each group's quantities are
// summed, one price is resolved for the aggregate, and that price is written
// to every member line. Lines whose product is missing from the catalog are
// dropped. The invariant after any recalculation: all lines in one group
// carry the same unit price.
func (c *Cart) RecalculateAll(role Role, catalog map[string]*Product) error {
	type group struct {
		table TierTable
		total int
		lines []string
	}
	groups := make(map[string]*group)

	ids := make([]string, 0, len(c.Lines))
	for id := range c.Lines {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		line := c.Lines[id]
		product, ok := catalog[line.ProductID]
		if !ok {
			// The product is gone from the catalog; keeping the line would
			// show a price no current tier table produces.
			delete(c.Lines, id)
			continue
		}
		table := product.TiersFor(role)
		gid := table.GroupID()
		g, ok := groups[gid]
		if !ok {
			g = &group{table: table}
			groups[gid] = g
		}
		g.total += line.Quantity
		g.lines = append(g.lines, id)
	}

	for gid, g := range groups {
		price, err := g.table.ResolvePrice(g.total)
		if err != nil {
			return err
		}
		for _, id := range g.lines {
			line := c.Lines[id]
			line.UnitPrice = price
			line.GroupID = gid
			c.Lines[id] = line
		}
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Subtotal returns the cart total in minor units.
func (c *Cart) Subtotal() int64 {
	var total int64
	for _, line := range c.Lines {
		total += line.UnitPrice * int64(line.Quantity)
	}
	return total
}

// TotalQuantity returns the number of units across all lines.
func (c *Cart) TotalQuantity() int {
	var count int
	for _, line := range c.Lines {
		count += line.Quantity
	}
	return count
}

// CheckMinimumOrder verifies the subtotal against the role's configured
// minimum. Returns whether the minimum is met and the shortfall in minor
// units (0 when met or when the role has no minimum).
func (c *Cart) CheckMinimumOrder(role Role, minimums map[Role]int64) (bool, int64) {
	min, ok := minimums[role]
	if !ok || min <= 0 {
		return true, 0
	}
	subtotal := c.Subtotal()
	if subtotal >= min {
		return true, 0
	}
	return false, min - subtotal
}
