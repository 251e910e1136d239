package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// MaxJSONSize bounds a JSON render context document.
const MaxJSONSize = 32 << 20

type jsonContext struct {
	Products    map[string]jsonProduct `json:"products_by_id"`
	Tiers       map[string][]jsonTier  `json:"tiers_by_product_id"`
	TenantFonts map[string]string      `json:"tenant_fonts"`
	GlobalFonts map[string]string      `json:"global_fonts"`
	AgentMode   bool                   `json:"agent_mode"`
}

type jsonProduct struct {
	PriceHT *flexNumber `json:"price_ht"`
	Stock   *flexNumber `json:"stock"`
	EAN13   flexID      `json:"ean13"`
	SKU     flexID      `json:"sku"`
}

type jsonTier struct {
	TierID  flexID     `json:"tier_id"`
	QtyMin  flexNumber `json:"qty_min"`
	PriceHT flexNumber `json:"price_ht"`
}

// flexID accepts a JSON string or number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// flexNumber accepts a JSON number or a numeric string with a comma or
// dot decimal separator.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
		if err != nil {
			return fmt.Errorf("number %q: %w", s, err)
		}
		*f = flexNumber(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("number: %w", err)
	}
	*f = flexNumber(v)
	return nil
}

// LoadJSON decodes a render context document.
func LoadJSON(r io.Reader) (*RenderContext, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxJSONSize+1))
	if err != nil {
		return nil, fmt.Errorf("read render context: %w", err)
	}
	if len(data) > MaxJSONSize {
		return nil, fmt.Errorf("render context exceeds %d bytes", MaxJSONSize)
	}
	var doc jsonContext
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode render context: %w", err)
	}
	rc := newContext()
	rc.AgentMode = doc.AgentMode
	for id, p := range doc.Products {
		prod := Product{ID: id, EAN13: string(p.EAN13), SKU: string(p.SKU)}
		if p.PriceHT != nil {
			v := float64(*p.PriceHT)
			prod.PriceHT = &v
		}
		if p.Stock != nil {
			v := int64(*p.Stock)
			prod.Stock = &v
		}
		rc.Products[id] = prod
	}
	for id, tiers := range doc.Tiers {
		out := make([]Tier, 0, len(tiers))
		for _, t := range tiers {
			out = append(out, Tier{TierID: string(t.TierID), QtyMin: int64(t.QtyMin), PriceHT: float64(t.PriceHT)})
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].QtyMin < out[j].QtyMin })
		rc.Tiers[id] = out
	}
	for k, v := range doc.TenantFonts {
		rc.TenantFonts[k] = v
	}
	for k, v := range doc.GlobalFonts {
		rc.GlobalFonts[k] = v
	}
	return rc, nil
}

// File is a Source backed by a JSON document on disk.
type File struct {
	Path string
}

func (f File) Load(ctx context.Context, q Query) (*RenderContext, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open render context: %w", err)
	}
	defer fh.Close()
	rc, err := LoadJSON(fh)
	if err != nil {
		return nil, err
	}
	rc.AgentMode = rc.AgentMode || q.AgentMode
	return rc, nil
}
