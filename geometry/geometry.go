// Package geometry maps editor geometry onto PDF page space.
//
// Editor coordinates have their origin at the top-left of the displayed
// page; the returned rectangles use PDF's bottom-left origin on the same
// displayed page, in points.
package geometry

import (
	"math"

	"github.com/wudi/flyerkit/coords"
	"github.com/wudi/flyerkit/draft"
)

// CSSPixelToPoint converts CSS pixels (96 dpi) to points.
const CSSPixelToPoint = 72.0 / 96.0

// Floors keep hairline strokes and tiny text from collapsing to zero.
const (
	MinFontSize    = 4.0
	MinStrokeWidth = 0.25
)

// Page is the displayed page size in points plus the editor viewport the
// pixel geometry was authored in.
type Page struct {
	Width, Height float64
	Viewport      *draft.Viewport

	// MinFont and MinStroke override the default floors when positive.
	MinFont, MinStroke float64
}

// Scale returns the horizontal and vertical pixel-to-point ratios.
func (p Page) Scale() (sx, sy float64) {
	zoom := 1.0
	if p.Viewport != nil && p.Viewport.Zoom > 0 {
		zoom = p.Viewport.Zoom
	}
	sx, sy = CSSPixelToPoint/zoom, CSSPixelToPoint/zoom
	if vp := p.Viewport; vp != nil {
		if vp.BaseWidth > 0 {
			sx = p.Width / (vp.BaseWidth * zoom)
		}
		if vp.BaseHeight > 0 {
			sy = p.Height / (vp.BaseHeight * zoom)
		}
	}
	return sx, sy
}

// Rect maps g onto the page. ok is false when the mapped rectangle is
// degenerate, not finite, or lies entirely outside the page.
func (p Page) Rect(g draft.Geometry) (r coords.Rect, ok bool) {
	var x, y, w, h float64
	if rel := g.Rel; rel != nil {
		x0, y0 := clamp01(rel.X), clamp01(rel.Y)
		x1, y1 := clamp01(rel.X+rel.W), clamp01(rel.Y+rel.H)
		if rel.W <= 0 || rel.H <= 0 {
			return coords.Rect{}, false
		}
		x, y = x0*p.Width, y0*p.Height
		w, h = (x1-x0)*p.Width, (y1-y0)*p.Height
	} else {
		sx, sy := p.Scale()
		x, y, w, h = g.X*sx, g.Y*sy, g.W*sx, g.H*sy
	}
	for _, v := range []float64{x, y, w, h} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return coords.Rect{}, false
		}
	}
	if w <= 0 || h <= 0 {
		return coords.Rect{}, false
	}
	r = coords.Rect{LLX: x, LLY: p.Height - y - h, URX: x + w, URY: p.Height - y}
	if r.URX <= 0 || r.LLX >= p.Width || r.URY <= 0 || r.LLY >= p.Height {
		return coords.Rect{}, false
	}
	return r, true
}

// FontSize converts an editor font size to points using the height ratio.
func (p Page) FontSize(px float64) float64 {
	if !(px > 0) {
		return 0
	}
	_, sy := p.Scale()
	return math.Max(px*sy, floor(p.MinFont, MinFontSize))
}

// StrokeWidth converts an editor stroke width to points using the width
// ratio. Zero stays zero: no stroke.
func (p Page) StrokeWidth(px float64) float64 {
	if !(px > 0) {
		return 0
	}
	sx, _ := p.Scale()
	return math.Max(px*sx, floor(p.MinStroke, MinStrokeWidth))
}

// Length converts an editor length such as a corner radius using the
// width ratio, without a floor.
func (p Page) Length(px float64) float64 {
	if !(px > 0) {
		return 0
	}
	sx, _ := p.Scale()
	return px * sx
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func floor(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}
