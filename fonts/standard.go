package fonts

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"

	"github.com/wudi/flyerkit/contentstream"
	"github.com/wudi/flyerkit/ir/raw"
	"github.com/wudi/flyerkit/pdfdoc"
)

// Standard is one of the base-14 faces every viewer provides. Text is
// encoded as WinAnsi; runes outside it show as '?'.
type Standard struct {
	name    string
	widths  [95]int16 // codes 32..126
	ascent  float64
	descent float64
}

var (
	Helvetica = &Standard{name: "Helvetica", ascent: 718, descent: -207, widths: [95]int16{
		278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278,
		556, 556, 556, 556, 556, 556, 556, 556, 556, 556,
		278, 278, 584, 584, 584, 556, 1015,
		667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833,
		722, 778, 667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611,
		278, 278, 278, 469, 556, 333,
		556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833,
		556, 556, 556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500,
		334, 260, 334, 584,
	}}
	HelveticaBold = &Standard{name: "Helvetica-Bold", ascent: 718, descent: -207, widths: [95]int16{
		278, 333, 474, 556, 556, 889, 722, 238, 333, 333, 389, 584, 278, 333, 278, 278,
		556, 556, 556, 556, 556, 556, 556, 556, 556, 556,
		333, 333, 584, 584, 584, 611, 975,
		722, 722, 722, 722, 667, 611, 778, 722, 278, 556, 722, 611, 833,
		722, 778, 667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611,
		333, 278, 333, 584, 556, 333,
		556, 611, 556, 611, 556, 333, 611, 611, 278, 278, 556, 278, 889,
		611, 611, 611, 611, 389, 556, 333, 611, 556, 778, 556, 556, 500,
		389, 280, 389, 584,
	}}
	TimesRoman = &Standard{name: "Times-Roman", ascent: 683, descent: -217, widths: [95]int16{
		250, 333, 408, 500, 500, 833, 778, 180, 333, 333, 500, 564, 250, 333, 250, 278,
		500, 500, 500, 500, 500, 500, 500, 500, 500, 500,
		278, 278, 564, 564, 564, 444, 921,
		722, 667, 667, 722, 611, 556, 722, 722, 333, 389, 722, 611, 889,
		722, 722, 556, 722, 667, 556, 611, 722, 722, 944, 722, 722, 611,
		333, 278, 333, 469, 500, 333,
		444, 500, 444, 500, 444, 333, 500, 500, 278, 278, 500, 278, 778,
		500, 500, 500, 500, 333, 389, 278, 500, 500, 722, 500, 500, 444,
		480, 200, 480, 541,
	}}
	TimesBold = &Standard{name: "Times-Bold", ascent: 676, descent: -205, widths: [95]int16{
		250, 333, 555, 500, 500, 1000, 833, 278, 333, 333, 500, 570, 250, 333, 250, 278,
		500, 500, 500, 500, 500, 500, 500, 500, 500, 500,
		333, 333, 570, 570, 570, 500, 930,
		722, 667, 722, 722, 667, 611, 778, 778, 389, 500, 778, 667, 944,
		722, 778, 611, 778, 722, 556, 667, 722, 722, 1000, 722, 722, 667,
		333, 278, 333, 581, 500, 333,
		500, 556, 444, 556, 444, 333, 500, 556, 278, 333, 556, 278, 833,
		556, 500, 556, 556, 444, 389, 333, 556, 500, 722, 500, 500, 444,
		394, 220, 394, 520,
	}}
	Courier     = &Standard{name: "Courier", ascent: 629, descent: -157, widths: monospace(600)}
	CourierBold = &Standard{name: "Courier-Bold", ascent: 629, descent: -157, widths: monospace(600)}
)

func monospace(w int16) (out [95]int16) {
	for i := range out {
		out[i] = w
	}
	return out
}

var standardFaces = map[string]*Standard{}

func init() {
	for _, f := range []*Standard{Helvetica, HelveticaBold, TimesRoman, TimesBold, Courier, CourierBold} {
		standardFaces[strings.ToLower(f.name)] = f
	}
}

// LookupStandard finds a built-in face by family and weight bucket. Common
// aliases (Arial, Times New Roman, Courier New, sans-serif, ...) map to the
// matching base-14 face.
func LookupStandard(family string, bold bool) (*Standard, bool) {
	key := strings.ToLower(strings.TrimSpace(family))
	key = strings.TrimSuffix(strings.TrimSuffix(key, "-bold"), " bold")
	var regular, heavy *Standard
	switch key {
	case "helvetica", "arial", "sans-serif", "sans serif", "sans":
		regular, heavy = Helvetica, HelveticaBold
	case "times", "times-roman", "times new roman", "serif":
		regular, heavy = TimesRoman, TimesBold
	case "courier", "courier new", "monospace", "mono":
		regular, heavy = Courier, CourierBold
	default:
		f, ok := standardFaces[strings.ToLower(strings.TrimSpace(family))]
		return f, ok
	}
	if bold || strings.HasSuffix(strings.ToLower(family), "bold") {
		return heavy, true
	}
	return regular, true
}

// Default returns the face used when a family cannot be resolved.
func Default(bold bool) *Standard {
	if bold {
		return HelveticaBold
	}
	return Helvetica
}

func (s *Standard) Name() string     { return s.name }
func (s *Standard) Ascent() float64  { return s.ascent }
func (s *Standard) Descent() float64 { return s.descent }

func (s *Standard) HasRune(r rune) bool {
	_, ok := charmap.Windows1252.EncodeRune(r)
	return ok
}

func (s *Standard) Width(text string, size float64) float64 {
	total := 0
	for _, r := range text {
		total += s.runeWidth(r)
	}
	return float64(total) * size / 1000
}

// runeWidth measures ASCII from the metrics table; accented letters take
// the width of their base letter and other WinAnsi glyphs the digit width.
func (s *Standard) runeWidth(r rune) int {
	if r >= 32 && r <= 126 {
		return int(s.widths[r-32])
	}
	if r == '\u00a0' {
		return int(s.widths[0])
	}
	if !s.HasRune(r) {
		return int(s.widths['?'-32])
	}
	for _, base := range norm.NFD.String(string(r)) {
		if base >= 32 && base <= 126 {
			return int(s.widths[base-32])
		}
		break
	}
	return int(s.widths['0'-32])
}

func (s *Standard) Show(text string) []contentstream.TJItem {
	if text == "" {
		return nil
	}
	codes := make([]byte, 0, len(text))
	for _, r := range text {
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			b = '?'
		}
		codes = append(codes, b)
	}
	return []contentstream.TJItem{{Codes: codes}}
}

// Embed adds a Type1 font dictionary. Callers cache the reference per document.
func (s *Standard) Embed(doc *pdfdoc.Document) (raw.ObjectRef, error) {
	d := raw.Dict()
	d.Put("Type", raw.NameLiteral("Font"))
	d.Put("Subtype", raw.NameLiteral("Type1"))
	d.Put("BaseFont", raw.NameLiteral(s.name))
	d.Put("Encoding", raw.NameLiteral("WinAnsiEncoding"))
	return doc.Add(d), nil
}
