package catalog

import (
	"fmt"
	"sort"
	"time"
)

// Pool settings shared by the SQL sources.
const (
	maxConns        = 10
	minConns        = 2
	connMaxLifetime = 3 * time.Minute
	pingTimeout     = 5 * time.Second
)

// rows is the subset of pgx.Rows and *sql.Rows the scanners need.
type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanProducts reads (id, price_ht, stock, ean13, sku) rows.
func scanProducts(rc *RenderContext, r rows) error {
	for r.Next() {
		var (
			p        Product
			ean, sku *string
			price    *float64
			stock    *int64
		)
		if err := r.Scan(&p.ID, &price, &stock, &ean, &sku); err != nil {
			return fmt.Errorf("scan product: %w", err)
		}
		p.PriceHT, p.Stock = price, stock
		if ean != nil {
			p.EAN13 = *ean
		}
		if sku != nil {
			p.SKU = *sku
		}
		rc.Products[p.ID] = p
	}
	return r.Err()
}

// scanTiers reads (product_id, tier_id, qty_min, price_ht) rows.
func scanTiers(rc *RenderContext, r rows) error {
	for r.Next() {
		var (
			productID string
			t         Tier
		)
		if err := r.Scan(&productID, &t.TierID, &t.QtyMin, &t.PriceHT); err != nil {
			return fmt.Errorf("scan tier: %w", err)
		}
		rc.Tiers[productID] = append(rc.Tiers[productID], t)
	}
	if err := r.Err(); err != nil {
		return err
	}
	for _, tiers := range rc.Tiers {
		sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].QtyMin < tiers[j].QtyMin })
	}
	return nil
}

// scanFonts reads (key, file_path) rows into m.
func scanFonts(m map[string]string, r rows) error {
	for r.Next() {
		var key, path string
		if err := r.Scan(&key, &path); err != nil {
			return fmt.Errorf("scan font: %w", err)
		}
		m[key] = path
	}
	return r.Err()
}
