package domain

import (
	"time"

	"github.com/merchantry/wholesale-core/pkg/slug"
)

// Variant is one color/size combination of a product with its own stock.
type Variant struct {
	Color string `json:"color"`
	Size  string `json:"size"`
	Stock int    `json:"stock"`
}

// Signature returns the normalized variant signature used for line identity
// and stock matching, e.g. "navy-blue/xl". Empty for the no-variant case.
func (v Variant) Signature() string {
	c := slug.Generate(v.Color)
	s := slug.Generate(v.Size)
	if c == "" && s == "" {
		return ""
	}
	return c + "/" + s
}

// Product is a catalog item with per-role tier tables and either variant
// stock rows or a scalar base stock.
type Product struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	SKU       string             `json:"sku"`
	Stock     int                `json:"stock"`
	Variants  []Variant          `json:"variants,omitempty"`
	Pricing   map[Role]TierTable `json:"pricing"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// HasVariants reports whether stock is tracked per variant row.
func (p *Product) HasVariants() bool {
	return len(p.Variants) > 0
}

// TiersFor returns the tier table for the role. A missing table yields an
// empty TierTable, which resolves to ErrNoPricingData.
func (p *Product) TiersFor(role Role) TierTable {
	return p.Pricing[role]
}

// FindVariant returns the variant matching the normalized signature, or nil.
func (p *Product) FindVariant(signature string) *Variant {
	for i := range p.Variants {
		if p.Variants[i].Signature() == signature {
			return &p.Variants[i]
		}
	}
	return nil
}

// StockFor returns the available stock for the given variant signature, or
// the scalar base stock when the signature is empty.
func (p *Product) StockFor(signature string) int {
	if signature == "" {
		return p.Stock
	}
	if v := p.FindVariant(signature); v != nil {
		return v.Stock
	}
	return 0
}
