// Package shapes paints rectangles, rounded rectangles and lines onto page
// overlays. Solid fills and strokes are vector paths; gradient fills are
// rasterized and placed as images.
package shapes

import (
	"fmt"
	"math"

	"github.com/wudi/flyerkit/contentstream"
	"github.com/wudi/flyerkit/coords"
	"github.com/wudi/flyerkit/diag"
	"github.com/wudi/flyerkit/draft"
	"github.com/wudi/flyerkit/imageres"
	"github.com/wudi/flyerkit/pdfdoc"
	"github.com/wudi/flyerkit/raster"
)

// Defaults for gradient canvases.
const (
	DefaultSupersample = 3
	DefaultCanvasCap   = 2400
)

// Options control gradient rasterization.
type Options struct {
	// Supersample is the canvas pixels per point.
	Supersample int
	// CanvasCap bounds the longer canvas side in pixels.
	CanvasCap int
}

// Spec is one shape in displayed page space. Lengths are in points.
type Spec struct {
	Kind        draft.ShapeKind
	Rect        coords.Rect
	Radius      float64
	Fill        *draft.Color
	Gradient    *draft.Gradient
	Stroke      *draft.Color
	StrokeWidth float64
	Opacity     float64
}

// Renderer draws shapes into the pages of one document.
type Renderer struct {
	doc  *pdfdoc.Document
	opts Options
}

func New(doc *pdfdoc.Document, opts Options) *Renderer {
	if opts.Supersample < 1 {
		opts.Supersample = DefaultSupersample
	}
	if opts.CanvasCap <= 0 {
		opts.CanvasCap = DefaultCanvasCap
	}
	return &Renderer{doc: doc, opts: opts}
}

// Draw paints s onto page. A shape with neither fill, gradient nor stroke
// leaves no mark and is not an error.
func (r *Renderer) Draw(page *pdfdoc.Page, s Spec) error {
	w, h := s.Rect.Width(), s.Rect.Height()
	if !(w > 0) || !(h > 0) {
		return diag.Wrap(diag.ErrGeometryInvalid, fmt.Errorf("shape %vx%v", w, h))
	}
	if s.Kind == draft.ShapeLine {
		r.line(page, s)
		return nil
	}
	radius := 0.0
	if s.Kind == draft.ShapeRoundRect {
		radius = ClampRadius(s.Radius, w, h)
	}

	fill := s.Fill
	if s.Gradient != nil {
		if err := r.gradient(page, s.Rect, radius, s.Gradient, s.Opacity); err != nil {
			return err
		}
		fill = nil
	}
	stroke := s.Stroke
	if s.StrokeWidth <= 0 {
		stroke = nil
	}
	if fill == nil && stroke == nil {
		return nil
	}

	b := page.Content()
	b.Save()
	useAlpha(page, b, alpha(fill, s.Opacity), alpha(stroke, s.Opacity))
	if fill != nil {
		b.SetFillRGB(fill.RGB())
	}
	if stroke != nil {
		b.SetStrokeRGB(stroke.RGB()).SetLineWidth(s.StrokeWidth)
	}
	Path(b, s.Rect, radius)
	switch {
	case fill != nil && stroke != nil:
		b.FillStroke()
	case fill != nil:
		b.Fill()
	default:
		b.Stroke()
	}
	b.Restore()
	return nil
}

// line runs along the longer side of the box through its center. Without a
// stroke width the shorter side is the line thickness.
func (r *Renderer) line(page *pdfdoc.Page, s Spec) {
	c := s.Stroke
	if c == nil {
		c = s.Fill
	}
	if c == nil {
		c = &draft.Color{A: 1}
	}
	rect := s.Rect
	w, h := rect.Width(), rect.Height()
	width := s.StrokeWidth
	if width <= 0 {
		width = math.Min(w, h)
	}

	b := page.Content()
	b.Save()
	useAlpha(page, b, 1, alpha(c, s.Opacity))
	b.SetStrokeRGB(c.RGB()).SetLineWidth(width).SetLineCap(contentstream.LineCapButt)
	if w >= h {
		y := rect.LLY + h/2
		b.MoveTo(rect.LLX, y).LineTo(rect.URX, y)
	} else {
		x := rect.LLX + w/2
		b.MoveTo(x, rect.LLY).LineTo(x, rect.URY)
	}
	b.Stroke().Restore()
}

func (r *Renderer) gradient(page *pdfdoc.Page, rect coords.Rect, radius float64, g *draft.Gradient, opacity float64) error {
	w, h := rect.Width(), rect.Height()
	pw, ph := raster.Canvas(w, h, r.opts.Supersample, r.opts.CanvasCap)
	img := raster.LinearGradient(pw, ph, g.Angle, g.From, g.To)
	if g.Kind == draft.GradientRadial {
		img = raster.RadialGradient(pw, ph, g.From, g.To)
	}
	if radius > 0 {
		raster.ApplyMask(img, raster.RoundedMask(pw, ph, radius*float64(pw)/w))
	}
	ref, err := imageres.EmbedImage(r.doc, img)
	if err != nil {
		return fmt.Errorf("gradient: %w", err)
	}
	Place(page, page.UseXObject(ref), rect, opacity)
	return nil
}

// Place paints the image XObject name stretched over rect.
func Place(page *pdfdoc.Page, name string, rect coords.Rect, opacity float64) {
	b := page.Content()
	b.Save()
	useAlpha(page, b, opacity, opacity)
	b.Transform(coords.Matrix{rect.Width(), 0, 0, rect.Height(), rect.LLX, rect.LLY})
	b.DrawXObject(name)
	b.Restore()
}

// FillRect paints a solid, optionally rounded, box.
func FillRect(page *pdfdoc.Page, rect coords.Rect, radius float64, c draft.Color, opacity float64) {
	b := page.Content()
	b.Save()
	useAlpha(page, b, c.A*opacity, 1)
	b.SetFillRGB(c.RGB())
	Path(b, rect, ClampRadius(radius, rect.Width(), rect.Height()))
	b.Fill().Restore()
}

// StrokeRect outlines an optionally rounded box.
func StrokeRect(page *pdfdoc.Page, rect coords.Rect, radius float64, c draft.Color, width, opacity float64) {
	if width <= 0 {
		return
	}
	b := page.Content()
	b.Save()
	useAlpha(page, b, 1, c.A*opacity)
	b.SetStrokeRGB(c.RGB()).SetLineWidth(width)
	Path(b, rect, ClampRadius(radius, rect.Width(), rect.Height()))
	b.Stroke().Restore()
}

// Path appends a rectangle, or a rounded rectangle when radius is positive.
func Path(b *contentstream.Builder, rect coords.Rect, radius float64) {
	x, y, w, h := rect.LLX, rect.LLY, rect.Width(), rect.Height()
	if radius <= 0 {
		b.Rect(x, y, w, h)
		return
	}
	c := radius * (1 - raster.Kappa)
	b.MoveTo(x+radius, y)
	b.LineTo(x+w-radius, y)
	b.CurveTo(x+w-c, y, x+w, y+c, x+w, y+radius)
	b.LineTo(x+w, y+h-radius)
	b.CurveTo(x+w, y+h-c, x+w-c, y+h, x+w-radius, y+h)
	b.LineTo(x+radius, y+h)
	b.CurveTo(x+c, y+h, x, y+h-c, x, y+h-radius)
	b.LineTo(x, y+radius)
	b.CurveTo(x, y+c, x+c, y, x+radius, y)
	b.ClosePath()
}

// ClampRadius limits r to half the shorter side.
func ClampRadius(r, w, h float64) float64 {
	if !(r > 0) {
		return 0
	}
	return math.Min(r, math.Min(w, h)/2)
}

func alpha(c *draft.Color, opacity float64) float64 {
	if c == nil {
		return 1
	}
	return c.A * opacity
}

// useAlpha selects an ExtGState only when something is translucent.
func useAlpha(page *pdfdoc.Page, b *contentstream.Builder, fill, stroke float64) {
	if fill >= 1 && stroke >= 1 {
		return
	}
	b.SetExtGState(page.UseAlpha(fill, stroke))
}
