// Package draft is the typed form of an editor draft: pages of overlay
// objects plus the blank pages the editor appended to the template.
// Editor JSON enters through Normalize, which resolves key aliases once so
// the renderer never probes loosely-typed records.
package draft

import "math"

// Draft is a normalized editor document.
type Draft struct {
	Pages         []Page
	AppendedPages []PageSpec
	// Fonts maps "family|weight" or "family" keys to font files for fonts
	// the draft references outside the tenant and global tables.
	Fonts map[string]string
}

// Page holds the overlay objects of one output page.
type Page struct {
	// Index is the zero-based output page. Pages past the template's count
	// address appended pages.
	Index    int
	Viewport *Viewport
	Objects  []Object
}

// Viewport is the editor canvas the pixel geometry was authored in.
type Viewport struct {
	BaseWidth  float64
	BaseHeight float64
	Zoom       float64
}

// PageSpec describes an appended blank page in points.
type PageSpec struct {
	Width    float64
	Height   float64
	Rotation int
}

type Layer int

const (
	LayerFront Layer = iota
	LayerBack
)

func (l Layer) String() string {
	if l == LayerBack {
		return "back"
	}
	return "front"
}

// Kind names an overlay variant.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindShape    Kind = "shape"
	KindClipMask Kind = "clipmask"
)

// Object is one overlay. The concrete types are *Text, *Image, *Shape and *ClipMask.
type Object interface {
	Kind() Kind
	Common() *Base
	sealed()
}

// Base carries the fields every overlay shares.
type Base struct {
	ID       string
	Geometry Geometry
	Layer    Layer
	Style    Style
}

func (b *Base) Common() *Base { return b }
func (b *Base) sealed()       {}

// Geometry is either pixel geometry in the page viewport or page fractions.
// Rel wins when present.
type Geometry struct {
	X, Y, W, H float64
	Rel        *Rel
	// Angle is a clockwise rotation in degrees around the box center.
	Angle float64
}

// Rel is a rectangle in fractions of the page, origin top-left.
type Rel struct {
	X, Y, W, H float64
}

// Style holds the optional paint attributes.
type Style struct {
	Fill        *Color
	Stroke      *Color
	StrokeWidth float64 // viewport pixels
	Background  *Color
	// BackgroundOpacity multiplies the background color's alpha. Nil is opaque.
	BackgroundOpacity *float64
	// Opacity multiplies every paint of the object. Nil is opaque.
	Opacity *float64
}

// Alpha is the object opacity in [0,1].
func (s Style) Alpha() float64 { return unit(s.Opacity) }

// BackgroundAlpha is the background opacity in [0,1], not yet multiplied by Alpha.
func (s Style) BackgroundAlpha() float64 { return unit(s.BackgroundOpacity) }

func unit(v *float64) float64 {
	switch {
	case v == nil || *v >= 1 || math.IsNaN(*v):
		return 1
	case *v <= 0:
		return 0
	}
	return *v
}

type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

type Text struct {
	Base
	Text       string
	FontFamily string
	// FontWeight is the editor's free-text hint ("bold", "700", "600", ...).
	FontWeight string
	FontSize   float64 // viewport pixels
	Align      Align
	// VCenter centers the line block vertically in the box.
	VCenter       bool
	LetterSpacing float64 // thousandths of an em
	Binding       *Binding
}

func (*Text) Kind() Kind { return KindText }

// BindingKind selects the dynamic field evaluated for a Text.
type BindingKind string

const (
	BindingPrice      BindingKind = "product_price"
	BindingStockBadge BindingKind = "product_stock_badge"
	BindingEAN        BindingKind = "product_ean"
)

type PriceMode string

const (
	PriceBase PriceMode = "base"
	PriceTier PriceMode = "tier"
)

// StockPolicy controls when a stock badge is visible in agent mode.
type StockPolicy string

const (
	StockOnlyIfZero StockPolicy = "only_if_zero"
	StockAlways     StockPolicy = "always"
	StockNever      StockPolicy = "never"
)

// Binding ties a Text to catalog data.
type Binding struct {
	Kind      BindingKind
	ProductID string
	PriceMode PriceMode
	TierID    string
	ModeAgent StockPolicy
	ModeLabo  StockPolicy
	// Text is the badge label shown when the stock policy allows it.
	Text string
	// PlainPrice draws a price as ordinary text instead of split typography.
	PlainPrice bool
}

type Image struct {
	Base
	// Sources are tried in order until one resolves.
	Sources []string
}

func (*Image) Kind() Kind { return KindImage }

type ShapeKind string

const (
	ShapeRect      ShapeKind = "rect"
	ShapeRoundRect ShapeKind = "roundrect"
	ShapeLine      ShapeKind = "line"
)

type GradientKind string

const (
	GradientLinear GradientKind = "linear"
	GradientRadial GradientKind = "radial"
)

// Gradient is a two-stop fill.
type Gradient struct {
	Kind  GradientKind
	Angle float64 // degrees, linear only; 0 runs left to right
	From  Color
	To    Color
}

type Shape struct {
	Base
	Shape    ShapeKind
	Radius   float64 // viewport pixels
	Gradient *Gradient
}

func (*Shape) Kind() Kind { return KindShape }

type ClipMask struct {
	Base
	Shape   ShapeKind
	Radius  float64 // viewport pixels
	Sources []string
	// Scale multiplies the cover scale; OffsetX/OffsetY pan in viewport pixels.
	Scale   float64
	OffsetX float64
	OffsetY float64
}

func (*ClipMask) Kind() Kind { return KindClipMask }

// Ordered returns the page objects with every back-layer object before
// every front-layer object, keeping authoring order within a layer.
func (p Page) Ordered() []Object {
	out := make([]Object, 0, len(p.Objects))
	for _, layer := range []Layer{LayerBack, LayerFront} {
		for _, o := range p.Objects {
			if o.Common().Layer == layer {
				out = append(out, o)
			}
		}
	}
	return out
}
