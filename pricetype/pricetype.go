// Package pricetype sets prices in two sizes: a large integer part followed
// by smaller decimals and currency, shrunk together until the run fits.
package pricetype

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/wudi/flyerkit/coords"
	"github.com/wudi/flyerkit/draft"
	"github.com/wudi/flyerkit/fonts"
	"github.com/wudi/flyerkit/pdfdoc"
)

// Options tune the fit loop. Zero values take the defaults below.
type Options struct {
	// Bump is how many points the integer part exceeds the tail.
	Bump float64
	// Step multiplies both sizes on each shrink iteration.
	Step float64
	// MinSize floors the tail size.
	MinSize       float64
	MaxIterations int
}

const (
	DefaultBump          = 4.0
	DefaultStep          = 0.94
	DefaultMinSize       = 4.0
	DefaultMaxIterations = 40
)

func (o Options) withDefaults() Options {
	if o.Bump < 0 {
		o.Bump = 0
	} else if o.Bump == 0 {
		o.Bump = DefaultBump
	}
	if !(o.Step > 0 && o.Step < 1) {
		o.Step = DefaultStep
	}
	if !(o.MinSize > 0) {
		o.MinSize = DefaultMinSize
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	return o
}

// Segment is a run of text set in one face and size. X and Y are the
// baseline origin in page space.
type Segment struct {
	Text string
	Face fonts.Face
	Size float64
	X, Y float64
}

// Layout is a fitted price run.
type Layout struct {
	Segments []Segment
	Width    float64
	// IntegerSize and TailSize are the final sizes after shrinking.
	IntegerSize, TailSize float64
	// Fits is false when the iteration bound or the size floor stopped
	// the loop before the run fit.
	Fits bool
}

// Split cuts a formatted price at its decimal separator. "19,90 €" gives
// "19" and ",90 €"; a price without decimals keeps its currency in the
// tail.
func Split(price string) (integer, tail string) {
	if i := strings.LastIndexAny(price, ",."); i > 0 && i+1 < len(price) && isDigit(price[i+1]) {
		return price[:i], price[i:]
	}
	end := strings.IndexFunc(price, func(r rune) bool {
		return !unicode.IsDigit(r) && !unicode.IsSpace(r)
	})
	if end <= 0 {
		return price, ""
	}
	integer = strings.TrimRightFunc(price[:end], unicode.IsSpace)
	return integer, price[len(integer):]
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// Fit lays out price centered in rect starting from size points. Runes
// the face cannot show are set in fallback.
func Fit(price string, face, fallback fonts.Face, size float64, rect coords.Rect, opts Options) Layout {
	opts = opts.withDefaults()
	if fallback == nil {
		fallback = face
	}
	integer, tail := Split(price)
	intSize, tailSize := size+opts.Bump, size
	if tail == "" {
		intSize = size
	}
	w, h := rect.Width(), rect.Height()

	var width float64
	fits := false
	for i := 0; ; i++ {
		width = measure(integer, face, fallback, intSize) + measure(tail, face, fallback, tailSize)
		if width <= w && height(face, intSize) <= h {
			fits = true
			break
		}
		if i >= opts.MaxIterations || tailSize*opts.Step < opts.MinSize {
			break
		}
		intSize *= opts.Step
		tailSize *= opts.Step
	}

	l := Layout{Width: width, IntegerSize: intSize, TailSize: tailSize, Fits: fits}
	x := rect.LLX + (w-width)/2
	y := rect.LLY + h/2 - intSize*(face.Ascent()+face.Descent())/2000
	for _, part := range []struct {
		text string
		size float64
	}{{integer, intSize}, {tail, tailSize}} {
		for _, s := range runs(part.text, face, fallback) {
			s.Size, s.X, s.Y = part.size, x, y
			x += s.Face.Width(s.Text, s.Size)
			l.Segments = append(l.Segments, s)
		}
	}
	return l
}

func height(face fonts.Face, size float64) float64 {
	return size * (face.Ascent() - face.Descent()) / 1000
}

func measure(text string, face, fallback fonts.Face, size float64) float64 {
	var total float64
	for _, s := range runs(text, face, fallback) {
		total += s.Face.Width(s.Text, size)
	}
	return total
}

// runs groups text into maximal runs sharing a face. Spaces stay with the
// run they follow.
func runs(text string, face, fallback fonts.Face) []Segment {
	var out []Segment
	start := 0
	var cur fonts.Face
	for i, r := range text {
		f := face
		if !face.HasRune(r) && fallback.HasRune(r) {
			f = fallback
		}
		if unicode.IsSpace(r) && cur != nil {
			f = cur
		}
		if cur != nil && f != cur {
			out = append(out, Segment{Text: text[start:i], Face: cur})
			start = i
		}
		cur = f
	}
	if start < len(text) {
		out = append(out, Segment{Text: text[start:], Face: cur})
	}
	return out
}

// FontUser registers a face on a page and returns its resource name.
type FontUser interface {
	Use(page *pdfdoc.Page, face fonts.Face) (string, error)
}

// Fonts registers every face of l on page and returns the resource names in
// segment order. Nothing is written to the content stream.
func Fonts(page *pdfdoc.Page, fu FontUser, l Layout) ([]string, error) {
	names := make([]string, len(l.Segments))
	for i, s := range l.Segments {
		name, err := fu.Use(page, s.Face)
		if err != nil {
			return nil, fmt.Errorf("price segment %q: %w", s.Text, err)
		}
		names[i] = name
	}
	return names, nil
}

// Paint writes l in color c using the names returned by Fonts.
func Paint(page *pdfdoc.Page, l Layout, names []string, c draft.Color, opacity float64) {
	if len(l.Segments) == 0 {
		return
	}
	b := page.Content()
	b.Save()
	if a := c.A * opacity; a < 1 {
		b.SetExtGState(page.UseAlpha(a, a))
	}
	b.SetFillRGB(c.RGB())
	b.BeginText()
	for i, s := range l.Segments {
		b.SetFont(names[i], s.Size)
		b.SetTextMatrix(coords.Translate(s.X, s.Y))
		b.ShowArray(s.Face.Show(s.Text))
	}
	b.EndText()
	b.Restore()
}

// Draw paints l in color c on page. When a face cannot be registered the
// page is left untouched.
func Draw(page *pdfdoc.Page, fu FontUser, l Layout, c draft.Color, opacity float64) error {
	names, err := Fonts(page, fu, l)
	if err != nil {
		return err
	}
	Paint(page, l, names, c, opacity)
	return nil
}
