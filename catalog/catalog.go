// Package catalog holds the read-only business data a render consults:
// products, price tiers, font tables and the render mode. Snapshots load
// from a JSON document, PostgreSQL or MySQL.
package catalog

import "context"

// Product is the catalog view of one product. Nil pointers mean unknown.
type Product struct {
	ID      string
	PriceHT *float64
	Stock   *int64
	EAN13   string
	SKU     string
}

// Tier is a quantity price break.
type Tier struct {
	TierID  string
	QtyMin  int64
	PriceHT float64
}

// RenderContext is injected into one render and never modified by it.
type RenderContext struct {
	Products map[string]Product
	// Tiers are ordered by QtyMin.
	Tiers map[string][]Tier
	// TenantFonts maps tenant font ids to font files.
	TenantFonts map[string]string
	// GlobalFonts maps shared family keys to font files.
	GlobalFonts map[string]string
	// AgentMode selects the agent stock badge policy.
	AgentMode bool
}

// Product looks up a product; a nil context has no products.
func (rc *RenderContext) Product(id string) (Product, bool) {
	if rc == nil {
		return Product{}, false
	}
	p, ok := rc.Products[id]
	return p, ok
}

// Tier looks up the tier of a product by id.
func (rc *RenderContext) Tier(productID, tierID string) (Tier, bool) {
	if rc == nil {
		return Tier{}, false
	}
	for _, t := range rc.Tiers[productID] {
		if t.TierID == tierID {
			return t, true
		}
	}
	return Tier{}, false
}

// Query scopes a snapshot load.
type Query struct {
	TenantID string
	// ProductIDs limits products and tiers; empty loads nothing.
	ProductIDs []string
	AgentMode  bool
}

// Source produces render contexts.
type Source interface {
	Load(ctx context.Context, q Query) (*RenderContext, error)
}

func newContext() *RenderContext {
	return &RenderContext{
		Products:    make(map[string]Product),
		Tiers:       make(map[string][]Tier),
		TenantFonts: make(map[string]string),
		GlobalFonts: make(map[string]string),
	}
}
