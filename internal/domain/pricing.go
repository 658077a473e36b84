package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// TierRow is a single quantity break in a tier table. MaxQuantity of 0 means
// the row is unbounded above. UnitPrice is in minor units (cents).
type TierRow struct {
	MinQuantity int   `json:"min_quantity"`
	MaxQuantity int   `json:"max_quantity"`
	UnitPrice   int64 `json:"unit_price"`
}

// TierTable is the set of quantity breaks for one product and role. Rows are
// unique by MinQuantity; row order carries no meaning.
type TierTable []TierRow

// ResolvePrice returns the unit price for the given quantity. The row with
// the highest MinQuantity not exceeding the quantity wins. A quantity below
// the lowest tier resolves to the lowest tier's price. An empty table returns
// ErrNoPricingData.
func (t TierTable) ResolvePrice(quantity int) (int64, error) {
	if len(t) == 0 {
		return 0, ErrNoPricingData
	}
	rows := make([]TierRow, len(t))
	copy(rows, t)
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].MinQuantity > rows[j].MinQuantity
	})
	for _, row := range rows {
		if row.MinQuantity <= quantity {
			return row.UnitPrice, nil
		}
	}
	// Below the lowest break: charge the lowest break's price.
	return rows[len(rows)-1].UnitPrice, nil
}

// GroupID returns the content-addressable identity of the table: the SHA-256
// hex digest of its rows serialized in canonical order. Two tables with the
// same row set produce the same id regardless of input order, so cart lines
// priced from identical tables aggregate into one pricing group.
func (t TierTable) GroupID() string {
	rows := make([]TierRow, len(t))
	copy(rows, t)
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].MinQuantity < rows[j].MinQuantity
	})
	var b strings.Builder
	for _, row := range rows {
		fmt.Fprintf(&b, "min=%d;max=%d;price=%d|", row.MinQuantity, row.MaxQuantity, row.UnitPrice)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
