// Package clipmask fits an image into an optionally rounded frame with
// cover scaling plus the editor's pan and zoom.
package clipmask

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/wudi/flyerkit/coords"
	"github.com/wudi/flyerkit/diag"
	"github.com/wudi/flyerkit/draft"
	"github.com/wudi/flyerkit/imageres"
	"github.com/wudi/flyerkit/pdfdoc"
	"github.com/wudi/flyerkit/raster"
	"github.com/wudi/flyerkit/shapes"
)

// Zoom limits applied when Options leaves them unset.
const (
	DefaultZoomMin = 0.1
	DefaultZoomMax = 8.0
)

type Options struct {
	Supersample int
	CanvasCap   int
	ZoomMin     float64
	ZoomMax     float64
}

// Spec is one frame in displayed page space. Radius, offsets and stroke
// width are in points.
type Spec struct {
	Rect        coords.Rect
	Radius      float64
	Scale       float64
	OffsetX     float64
	OffsetY     float64
	Stroke      *draft.Color
	StrokeWidth float64
	Opacity     float64
}

type Renderer struct {
	doc  *pdfdoc.Document
	opts Options
}

func New(doc *pdfdoc.Document, opts Options) *Renderer {
	if opts.Supersample < 1 {
		opts.Supersample = shapes.DefaultSupersample
	}
	if opts.CanvasCap <= 0 {
		opts.CanvasCap = shapes.DefaultCanvasCap
	}
	if !(opts.ZoomMin > 0) {
		opts.ZoomMin = DefaultZoomMin
	}
	if !(opts.ZoomMax >= opts.ZoomMin) {
		opts.ZoomMax = math.Max(DefaultZoomMax, opts.ZoomMin)
	}
	return &Renderer{doc: doc, opts: opts}
}

// Draw composites img into the frame and places the result on page.
func (r *Renderer) Draw(page *pdfdoc.Page, img image.Image, s Spec) error {
	w, h := s.Rect.Width(), s.Rect.Height()
	if !(w > 0) || !(h > 0) {
		return diag.Wrap(diag.ErrGeometryInvalid, fmt.Errorf("clip frame %vx%v", w, h))
	}
	if img == nil || img.Bounds().Empty() {
		return diag.Wrap(diag.ErrResourceUnresolved, fmt.Errorf("clip frame has no image"))
	}
	canvas := r.Composite(img, s)
	ref, err := imageres.EmbedImage(r.doc, canvas)
	if err != nil {
		return fmt.Errorf("clip frame: %w", err)
	}
	shapes.Place(page, page.UseXObject(ref), s.Rect, s.Opacity)
	if s.Stroke != nil {
		shapes.StrokeRect(page, s.Rect, s.Radius, *s.Stroke, s.StrokeWidth, s.Opacity)
	}
	return nil
}

// Composite renders the framed image onto a transparent canvas of the
// supersampled frame size.
func (r *Renderer) Composite(img image.Image, s Spec) *image.NRGBA {
	w, h := s.Rect.Width(), s.Rect.Height()
	pw, ph := raster.Canvas(w, h, r.opts.Supersample, r.opts.CanvasCap)
	canvas := image.NewNRGBA(image.Rect(0, 0, pw, ph))

	src := img.Bounds()
	iw, ih := float64(src.Dx()), float64(src.Dy())
	cover := math.Max(float64(pw)/iw, float64(ph)/ih)
	k := cover * r.Zoom(s.Scale)
	dw, dh := iw*k, ih*k

	// points to canvas pixels
	kx, ky := float64(pw)/w, float64(ph)/h
	x0 := (float64(pw)-dw)/2 + s.OffsetX*kx
	y0 := (float64(ph)-dh)/2 + s.OffsetY*ky
	dst := image.Rect(
		int(math.Round(x0)), int(math.Round(y0)),
		int(math.Round(x0+dw)), int(math.Round(y0+dh)),
	)
	if dst.Overlaps(canvas.Bounds()) {
		draw.CatmullRom.Scale(canvas, dst, img, src, draw.Over, nil)
	}

	if radius := shapes.ClampRadius(s.Radius, w, h); radius > 0 {
		raster.ApplyMask(canvas, raster.RoundedMask(pw, ph, radius*kx))
	}
	return canvas
}

// Zoom clamps a user zoom factor; non-positive values mean no zoom.
func (r *Renderer) Zoom(scale float64) float64 {
	if !(scale > 0) || math.IsInf(scale, 0) {
		return 1
	}
	return math.Max(r.opts.ZoomMin, math.Min(r.opts.ZoomMax, scale))
}

var (
	placeholderFill   = draft.Color{R: 240, G: 240, B: 240, A: 1}
	placeholderBorder = draft.Color{R: 160, G: 160, B: 160, A: 1}
)

// Placeholder marks a frame whose image could not be resolved: a light
// box with a border and one diagonal.
func Placeholder(page *pdfdoc.Page, rect coords.Rect, radius float64) {
	shapes.FillRect(page, rect, radius, placeholderFill, 1)
	shapes.StrokeRect(page, rect, radius, placeholderBorder, 0.75, 1)
	r, g, b := placeholderBorder.RGB()
	page.Content().Save().
		SetStrokeRGB(r, g, b).SetLineWidth(0.75).
		MoveTo(rect.LLX, rect.LLY).LineTo(rect.URX, rect.URY).Stroke().
		Restore()
}
