package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleContext = `{
  "products_by_id": {
    "42": {"price_ht": 19.9, "stock": 0, "ean13": "3760123456789", "sku": "SKU-42"},
    "43": {"price_ht": "7,50", "stock": null, "ean13": 3760000000001},
    "44": {}
  },
  "tiers_by_product_id": {
    "42": [
      {"tier_id": 2, "qty_min": 50, "price_ht": 12.0},
      {"tier_id": 1, "qty_min": 10, "price_ht": 15.5}
    ]
  },
  "tenant_fonts": {"7": "/fonts/t/7.ttf"},
  "global_fonts": {"Brand Sans": "/fonts/g/brand.ttf"},
  "agent_mode": true
}`

func TestLoadJSON(t *testing.T) {
	rc, err := LoadJSON(strings.NewReader(sampleContext))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !rc.AgentMode {
		t.Fatalf("agent mode not set")
	}
	p, ok := rc.Product("42")
	if !ok || p.PriceHT == nil || *p.PriceHT != 19.9 || p.Stock == nil || *p.Stock != 0 || p.SKU != "SKU-42" {
		t.Fatalf("product 42: %+v", p)
	}
	p, _ = rc.Product("43")
	if p.PriceHT == nil || *p.PriceHT != 7.5 || p.Stock != nil || p.EAN13 != "3760000000001" {
		t.Fatalf("product 43: %+v", p)
	}
	p, _ = rc.Product("44")
	if p.PriceHT != nil || p.Stock != nil {
		t.Fatalf("product 44 should have unknown price and stock: %+v", p)
	}
	tiers := rc.Tiers["42"]
	if len(tiers) != 2 || tiers[0].TierID != "1" || tiers[1].QtyMin != 50 {
		t.Fatalf("tiers not ordered by qty_min: %+v", tiers)
	}
	if tier, ok := rc.Tier("42", "1"); !ok || tier.PriceHT != 15.5 {
		t.Fatalf("tier lookup: %+v %v", tier, ok)
	}
	if _, ok := rc.Tier("42", "9"); ok {
		t.Fatalf("unexpected tier 9")
	}
	if rc.TenantFonts["7"] != "/fonts/t/7.ttf" || rc.GlobalFonts["Brand Sans"] != "/fonts/g/brand.ttf" {
		t.Fatalf("font tables: %v %v", rc.TenantFonts, rc.GlobalFonts)
	}
}

func TestLoadJSONRejectsBadNumbers(t *testing.T) {
	_, err := LoadJSON(strings.NewReader(`{"products_by_id": {"1": {"price_ht": "abc"}}}`))
	if err == nil {
		t.Fatalf("expected an error for a non-numeric price")
	}
}

func TestNilContextLookups(t *testing.T) {
	var rc *RenderContext
	if _, ok := rc.Product("1"); ok {
		t.Fatalf("nil context has no products")
	}
	if _, ok := rc.Tier("1", "1"); ok {
		t.Fatalf("nil context has no tiers")
	}
}

func TestFileSourceOverridesAgentMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.json")
	if err := os.WriteFile(path, []byte(`{"agent_mode": false}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	rc, err := File{Path: path}.Load(context.Background(), Query{AgentMode: true})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !rc.AgentMode {
		t.Fatalf("query agent mode should apply")
	}
	if _, err := (File{Path: filepath.Join(t.TempDir(), "missing.json")}).Load(context.Background(), Query{}); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

// fakeRows serves canned rows to the SQL scanners.
type fakeRows struct {
	data [][]any
	pos  int
	err  error
}

func (f *fakeRows) Next() bool {
	if f.pos >= len(f.data) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	row := f.data[f.pos-1]
	if len(row) != len(dest) {
		return errors.New("column count mismatch")
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int64:
			*d = v.(int64)
		case *float64:
			*d = v.(float64)
		case **string:
			if v != nil {
				s := v.(string)
				*d = &s
			}
		case **float64:
			if v != nil {
				f := v.(float64)
				*d = &f
			}
		case **int64:
			if v != nil {
				n := v.(int64)
				*d = &n
			}
		default:
			return errors.New("unsupported destination")
		}
	}
	return nil
}

func (f *fakeRows) Err() error { return f.err }

func TestScanProductsAndTiers(t *testing.T) {
	rc := newContext()
	products := &fakeRows{data: [][]any{
		{"42", 19.9, int64(3), "3760123456789", "SKU-42"},
		{"43", nil, nil, nil, nil},
	}}
	if err := scanProducts(rc, products); err != nil {
		t.Fatalf("products: %v", err)
	}
	if p := rc.Products["42"]; p.PriceHT == nil || *p.Stock != 3 || p.EAN13 != "3760123456789" {
		t.Fatalf("product 42: %+v", p)
	}
	if p := rc.Products["43"]; p.PriceHT != nil || p.Stock != nil || p.EAN13 != "" {
		t.Fatalf("product 43 should keep NULLs as unknown: %+v", p)
	}

	tiers := &fakeRows{data: [][]any{
		{"42", "2", int64(50), 12.0},
		{"42", "1", int64(10), 15.5},
	}}
	if err := scanTiers(rc, tiers); err != nil {
		t.Fatalf("tiers: %v", err)
	}
	if got := rc.Tiers["42"]; len(got) != 2 || got[0].TierID != "1" {
		t.Fatalf("tiers: %+v", got)
	}

	fonts := &fakeRows{data: [][]any{{"7", "/t/7.ttf"}}}
	if err := scanFonts(rc.TenantFonts, fonts); err != nil || rc.TenantFonts["7"] != "/t/7.ttf" {
		t.Fatalf("fonts: %v %v", rc.TenantFonts, err)
	}

	broken := &fakeRows{err: errors.New("connection reset")}
	if err := scanFonts(rc.GlobalFonts, broken); err == nil {
		t.Fatalf("row errors should surface")
	}
}

func TestPlaceholders(t *testing.T) {
	in, args := placeholders([]string{"1", "2", "3"})
	if in != "?,?,?" || len(args) != 3 || args[2] != "3" {
		t.Fatalf("got %q %v", in, args)
	}
}
