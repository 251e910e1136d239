// Package fields evaluates dynamic bindings against a render context.
package fields

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/wudi/flyerkit/catalog"
	"github.com/wudi/flyerkit/diag"
	"github.com/wudi/flyerkit/draft"
)

// Placeholder stands in for a price that cannot be resolved.
const Placeholder = "—"

// DefaultStockText is shown when a stock badge binding carries no label.
const DefaultStockText = "Rupture de stock"

// Value is the outcome of a binding.
type Value struct {
	Text string
	// Suppressed means the object must not be drawn.
	Suppressed bool
	// Price is set when Text is a formatted price.
	Price bool
}

// Formatter formats prices for one locale and currency.
type Formatter struct {
	Locale   language.Tag
	Currency string
}

// DefaultFormatter formats French prices in euros.
func DefaultFormatter() Formatter {
	return Formatter{Locale: language.French, Currency: "€"}
}

// Price formats v with two decimals, locale separators and the currency
// suffix. Grouping spaces are plain spaces so every built-in face can show
// them.
func (f Formatter) Price(v float64) string {
	tag := f.Locale
	if tag == language.Und {
		tag = language.French
	}
	p := message.NewPrinter(tag)
	s := p.Sprint(number.Decimal(v, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
	s = strings.NewReplacer("\u202f", " ", "\u00a0", " ").Replace(s)
	if f.Currency != "" {
		s += " " + f.Currency
	}
	return s
}

// Resolve evaluates b against rc. A binding whose data is missing returns an
// error wrapping diag.ErrBindingUnresolved; policy suppression is not an
// error.
func Resolve(b *draft.Binding, rc *catalog.RenderContext, f Formatter) (Value, error) {
	if b == nil {
		return Value{}, diag.Wrap(diag.ErrBindingUnresolved, fmt.Errorf("no binding"))
	}
	switch b.Kind {
	case draft.BindingPrice:
		return price(b, rc, f), nil
	case draft.BindingStockBadge:
		return stockBadge(b, rc), nil
	case draft.BindingEAN:
		return ean(b, rc)
	default:
		return Value{}, diag.Wrap(diag.ErrBindingUnresolved, fmt.Errorf("binding kind %q", b.Kind))
	}
}

func price(b *draft.Binding, rc *catalog.RenderContext, f Formatter) Value {
	p, ok := rc.Product(b.ProductID)
	if !ok {
		return Value{Text: Placeholder}
	}
	v := p.PriceHT
	if b.PriceMode == draft.PriceTier && b.TierID != "" {
		if t, ok := rc.Tier(b.ProductID, b.TierID); ok {
			v = &t.PriceHT
		}
	}
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return Value{Text: Placeholder}
	}
	return Value{Text: f.Price(*v), Price: true}
}

// stockBadge applies the agent visibility policy; outside agent mode the
// badge always shows.
func stockBadge(b *draft.Binding, rc *catalog.RenderContext) Value {
	text := strings.TrimSpace(b.Text)
	if text == "" {
		text = DefaultStockText
	}
	if rc == nil || !rc.AgentMode {
		return Value{Text: text}
	}
	var stock *int64
	if p, ok := rc.Product(b.ProductID); ok {
		stock = p.Stock
	}
	switch b.ModeAgent {
	case draft.StockAlways:
		return Value{Text: text}
	case draft.StockNever:
		return Value{Suppressed: true}
	default:
		if stock != nil && *stock == 0 {
			return Value{Text: text}
		}
		return Value{Suppressed: true}
	}
}

func ean(b *draft.Binding, rc *catalog.RenderContext) (Value, error) {
	p, ok := rc.Product(b.ProductID)
	if !ok {
		return Value{Suppressed: true}, diag.Wrap(diag.ErrBindingUnresolved, fmt.Errorf("product %q not in context", b.ProductID))
	}
	code := strings.TrimSpace(p.EAN13)
	if isSentinelEAN(code) {
		return Value{Suppressed: true}, diag.Wrap(diag.ErrBindingUnresolved, fmt.Errorf("product %q has no EAN", b.ProductID))
	}
	return Value{Text: code}, nil
}

// isSentinelEAN reports placeholder codes exported by catalog imports.
func isSentinelEAN(code string) bool {
	switch strings.ToLower(code) {
	case "", "-", "null", "none", "n/a", "na":
		return true
	}
	return strings.Trim(code, "0") == ""
}
