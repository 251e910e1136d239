// Package raster draws the off-path pixel content of overlays: gradient
// canvases and rounded alpha masks.
package raster

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/vector"

	"github.com/wudi/flyerkit/draft"
)

// Kappa places cubic control points for a quarter circle.
const Kappa = 0.5522847498

// Canvas returns the pixel size for a w×h point rectangle at the given
// supersampling factor. The longer side is capped at maxSide, keeping the
// aspect ratio; neither side drops below one pixel.
func Canvas(w, h float64, supersample, maxSide int) (int, int) {
	if supersample < 1 {
		supersample = 1
	}
	pw, ph := w*float64(supersample), h*float64(supersample)
	if maxSide > 0 {
		if long := math.Max(pw, ph); long > float64(maxSide) {
			k := float64(maxSide) / long
			pw, ph = pw*k, ph*k
		}
	}
	return max(1, int(math.Ceil(pw))), max(1, int(math.Ceil(ph)))
}

// RoundedMask rasterizes a w×h rounded rectangle with corner radius r in
// pixels. The radius is limited to half the shorter side.
func RoundedMask(w, h int, r float64) *image.Alpha {
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	z := vector.NewRasterizer(w, h)
	RoundedRectPath(z, 0, 0, float64(w), float64(h), r)
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

// Path is the subset of vector.Rasterizer a rounded rectangle needs.
type Path interface {
	MoveTo(x, y float32)
	LineTo(x, y float32)
	CubeTo(x1, y1, x2, y2, x3, y3 float32)
	ClosePath()
}

// RoundedRectPath appends a rounded rectangle to p.
func RoundedRectPath(p Path, x, y, w, h, r float64) {
	r = math.Max(0, math.Min(r, math.Min(w, h)/2))
	f := func(v float64) float32 { return float32(v) }
	if r == 0 {
		p.MoveTo(f(x), f(y))
		p.LineTo(f(x+w), f(y))
		p.LineTo(f(x+w), f(y+h))
		p.LineTo(f(x), f(y+h))
		p.ClosePath()
		return
	}
	c := r * (1 - Kappa)
	p.MoveTo(f(x+r), f(y))
	p.LineTo(f(x+w-r), f(y))
	p.CubeTo(f(x+w-c), f(y), f(x+w), f(y+c), f(x+w), f(y+r))
	p.LineTo(f(x+w), f(y+h-r))
	p.CubeTo(f(x+w), f(y+h-c), f(x+w-c), f(y+h), f(x+w-r), f(y+h))
	p.LineTo(f(x+r), f(y+h))
	p.CubeTo(f(x+c), f(y+h), f(x), f(y+h-c), f(x), f(y+h-r))
	p.LineTo(f(x), f(y+r))
	p.CubeTo(f(x), f(y+c), f(x+c), f(y), f(x+r), f(y))
	p.ClosePath()
}

// ApplyMask multiplies the alpha of img by mask. Both share bounds.
func ApplyMask(img *image.NRGBA, mask *image.Alpha) {
	if mask == nil {
		return
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			m := mask.AlphaAt(x, y).A
			if m == 255 {
				continue
			}
			i := img.PixOffset(x, y) + 3
			img.Pix[i] = uint8(uint16(img.Pix[i]) * uint16(m) / 255)
		}
	}
}

// LinearGradient fills a w×h canvas from one stop to the other along a line
// at angle degrees clockwise from left-to-right. The gradient line spans the
// canvas projected onto that direction.
func LinearGradient(w, h int, angle float64, from, to draft.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rad := angle * math.Pi / 180
	dx, dy := math.Cos(rad), math.Sin(rad)
	length := math.Abs(float64(w)*dx) + math.Abs(float64(h)*dy)
	if length == 0 {
		length = 1
	}
	cx, cy := float64(w)/2, float64(h)/2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px, py := float64(x)+0.5-cx, float64(y)+0.5-cy
			t := (px*dx+py*dy)/length + 0.5
			img.SetNRGBA(x, y, Lerp(from, to, t))
		}
	}
	return img
}

// RadialGradient fills a w×h canvas by distance from the center, reaching
// the second stop at the corners.
func RadialGradient(w, h int, from, to draft.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	cx, cy := float64(w)/2, float64(h)/2
	half := math.Hypot(cx, cy)
	if half == 0 {
		half = 1
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy)
			img.SetNRGBA(x, y, Lerp(from, to, d/half))
		}
	}
	return img
}

// Lerp interpolates two stop colors at t, clamped to [0,1].
func Lerp(a, b draft.Color, t float64) color.NRGBA {
	t = math.Max(0, math.Min(1, t))
	mix := func(p, q float64) uint8 { return uint8(math.Round(p + (q-p)*t)) }
	return color.NRGBA{
		R: mix(float64(a.R), float64(b.R)),
		G: mix(float64(a.G), float64(b.G)),
		B: mix(float64(a.B), float64(b.B)),
		A: mix(a.A*255, b.A*255),
	}
}
