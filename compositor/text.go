package compositor

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/wudi/flyerkit/coords"
	"github.com/wudi/flyerkit/diag"
	"github.com/wudi/flyerkit/draft"
	"github.com/wudi/flyerkit/fields"
	"github.com/wudi/flyerkit/fontres"
	"github.com/wudi/flyerkit/fonts"
	"github.com/wudi/flyerkit/geometry"
	"github.com/wudi/flyerkit/observability"
	"github.com/wudi/flyerkit/pdfdoc"
	"github.com/wudi/flyerkit/pricetype"
	"github.com/wudi/flyerkit/shapes"
)

// DefaultFontSizePx applies to text objects without a font size.
const DefaultFontSizePx = 16.0

// LineHeight is the baseline distance as a multiple of the font size.
const LineHeight = 1.2

var black = draft.Color{A: 1}

func (ss *session) text(page *pdfdoc.Page, gp geometry.Page, rect coords.Rect, t *draft.Text) (string, error) {
	content := t.Text
	price := false
	if t.Binding != nil {
		v, err := fields.Resolve(t.Binding, ss.rc, ss.formatter)
		if err != nil {
			return observability.OutcomeSuppressed, err
		}
		if v.Suppressed {
			return observability.OutcomeSuppressed, nil
		}
		content = v.Text
		price = v.Price && !t.Binding.PlainPrice
	}
	if strings.TrimSpace(content) == "" {
		return observability.OutcomeSkipped, nil
	}

	bold := fontres.WeightBucket(t.FontWeight) >= fontres.Bold
	face, fontErr := ss.fonts.Resolve(t.FontFamily, t.FontWeight)
	name, err := ss.fonts.Use(page, face)
	if err != nil {
		ss.log.Warn("font embedding failed, using built-in face", observability.String("font", face.Name()), observability.Error("error", err))
		fontErr = diag.Wrap(diag.ErrResourceUnresolved, err)
		face = fonts.Default(bold)
		if name, err = ss.fonts.Use(page, face); err != nil {
			return observability.OutcomeFailed, err
		}
	}
	px := t.FontSize
	if !(px > 0) {
		px = DefaultFontSizePx
	}
	size := gp.FontSize(px)
	color := black
	if t.Style.Fill != nil {
		color = *t.Style.Fill
	}
	opacity := t.Style.Alpha()

	// every font name is known before anything is painted
	var (
		layout pricetype.Layout
		names  []string
	)
	if price {
		layout = pricetype.Fit(content, face, fonts.Default(bold), size, rect, ss.price)
		if names, err = pricetype.Fonts(page, ss.fonts, layout); err != nil {
			return observability.OutcomeFailed, err
		}
	}

	if bg := t.Style.Background; bg != nil {
		shapes.FillRect(page, rect, 0, *bg, t.Style.BackgroundAlpha()*opacity)
	}
	if price {
		pricetype.Paint(page, layout, names, color, opacity)
	} else {
		floor := ss.s.cfg.Render.MinFontSize
		if !(floor > 0) {
			floor = geometry.MinFontSize
		}
		ss.lines(page, rect, content, t, face, name, size, floor, color, opacity)
	}
	if fontErr != nil {
		return observability.OutcomeDegraded, fontErr
	}
	return observability.OutcomeDrawn, nil
}

// line is one laid-out text line.
type line struct {
	text  string
	size  float64
	width float64
}

// fitLine shrinks size so text fits width, not below floor.
func fitLine(face fonts.Face, text string, size, spacing, width, floor float64) line {
	measure := func(s float64) float64 {
		return face.Width(text, s) + float64(utf8.RuneCountInString(text))*spacing*s/1000
	}
	w := measure(size)
	if w > width && w > 0 {
		size = math.Max(floor, size*width/w)
		w = measure(size)
	}
	return line{text: text, size: size, width: w}
}

// lines draws literal text: one line per newline, each shrunk to the box
// width, aligned horizontally and optionally centered vertically.
func (ss *session) lines(page *pdfdoc.Page, rect coords.Rect, text string, t *draft.Text, face fonts.Face, name string, size, floor float64, c draft.Color, opacity float64) {
	laid, baseline := layoutLines(face, text, rect, size, t.LetterSpacing, floor, t.VCenter)

	b := page.Content()
	b.Save()
	if a := c.A * opacity; a < 1 {
		b.SetExtGState(page.UseAlpha(a, a))
	}
	b.SetFillRGB(c.RGB())
	b.BeginText()
	y := baseline
	for _, l := range laid {
		if l.text != "" {
			b.SetFont(name, l.size)
			if t.LetterSpacing != 0 {
				b.SetCharSpacing(t.LetterSpacing * l.size / 1000)
			}
			b.SetTextMatrix(coords.Translate(alignX(rect, t.Align, l.width), y))
			b.ShowArray(face.Show(l.text))
		}
		y -= size * LineHeight
	}
	b.EndText()
	b.Restore()
}

// layoutLines fits every line of text into rect and returns the lines with
// the baseline of the first.
func layoutLines(face fonts.Face, text string, rect coords.Rect, size, spacing, floor float64, vcenter bool) ([]line, float64) {
	parts := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]line, 0, len(parts))
	for _, p := range parts {
		out = append(out, fitLine(face, strings.TrimRight(p, " \t"), size, spacing, rect.Width(), floor))
	}
	block := float64(len(out)) * size * LineHeight
	top := rect.URY
	if vcenter {
		top = rect.URY - (rect.Height()-block)/2
	}
	// the first baseline sits one ascent below the top, shifted by the
	// half-leading
	baseline := top - size*(LineHeight-1)/2 - size*face.Ascent()/1000
	return out, baseline
}

func alignX(rect coords.Rect, align draft.Align, width float64) float64 {
	switch align {
	case draft.AlignCenter:
		return rect.LLX + (rect.Width()-width)/2
	case draft.AlignRight:
		return rect.URX - width
	}
	return rect.LLX
}
