// Package fonts measures, encodes and embeds the faces used for overlay
// text: the built-in standard faces and TrueType files shaped with
// go-text/typesetting.
package fonts

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	gofont "github.com/go-text/typesetting/font"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/flyerkit/contentstream"
	"github.com/wudi/flyerkit/ir/raw"
	"github.com/wudi/flyerkit/pdfdoc"
)

// Face is a font the overlay renderer can measure, encode and embed.
type Face interface {
	// Name is the PDF base font name.
	Name() string
	HasRune(r rune) bool
	// Width returns the advance of text at size, in points.
	Width(text string, size float64) float64
	// Show encodes text as TJ items.
	Show(text string) []contentstream.TJItem
	// Ascent and Descent are in thousandths of an em; Descent is negative.
	Ascent() float64
	Descent() float64
	// Embed adds the font to doc and returns its font dictionary reference.
	Embed(doc *pdfdoc.Document) (raw.ObjectRef, error)
}

// ErrForeignDocument is returned when a TrueType face already embedded in
// one document is embedded into another.
var ErrForeignDocument = errors.New("fonts: face belongs to another document")

// TrueType is a TrueType face embedded as a Type0/Identity-H font. Glyph
// codes are glyph ids; only glyphs passed through Show are kept when the
// document is saved.
type TrueType struct {
	name string
	data []byte
	face *gofont.Face
	upem float64

	ascent, descent, capHeight float64
	italicAngle                float64
	bbox                       [4]float64

	used map[gofont.GID][]rune
	doc  *pdfdoc.Document
	ref  raw.ObjectRef
}

// LoadTrueType parses a TrueType/OpenType font and extracts the metrics the
// font descriptor needs.
func LoadTrueType(name string, data []byte) (*TrueType, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("truetype font data is empty")
	}
	font, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse truetype: %w", err)
	}
	unitsPerEm := font.UnitsPerEm()
	if unitsPerEm == 0 {
		return nil, fmt.Errorf("invalid unitsPerEm")
	}
	face, err := gofont.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("load face: %w", err)
	}
	buf := &sfnt.Buffer{}
	ppem := fixed.Int26_6(unitsPerEm << 6)

	baseName := strings.TrimSpace(name)
	if ps, _ := font.Name(buf, sfnt.NameIDPostScript); len(ps) > 0 {
		baseName = ps
	}
	baseName = sanitizeName(baseName)
	if baseName == "" {
		baseName = "CustomTT"
	}

	t := &TrueType{
		name:        baseName,
		data:        data,
		face:        face,
		upem:        float64(face.Upem()),
		italicAngle: italicAngle(font),
		used:        make(map[gofont.GID][]rune),
	}
	if m, err := font.Metrics(buf, ppem, xfont.HintingNone); err == nil {
		t.ascent = scaleFixed(m.Ascent, unitsPerEm)
		t.descent = -scaleFixed(m.Descent, unitsPerEm)
		t.capHeight = scaleFixed(m.CapHeight, unitsPerEm)
	}
	if t.capHeight == 0 {
		t.capHeight = t.ascent
	}
	// sfnt bounds grow downwards; PDF's grow upwards.
	if b, err := font.Bounds(buf, ppem, xfont.HintingNone); err == nil {
		t.bbox = [4]float64{
			scaleFixed(b.Min.X, unitsPerEm),
			-scaleFixed(b.Max.Y, unitsPerEm),
			scaleFixed(b.Max.X, unitsPerEm),
			-scaleFixed(b.Min.Y, unitsPerEm),
		}
	}
	if t.upem == 0 {
		t.upem = float64(unitsPerEm)
	}
	return t, nil
}

func (t *TrueType) Name() string     { return t.name }
func (t *TrueType) Ascent() float64  { return t.ascent }
func (t *TrueType) Descent() float64 { return t.descent }

func (t *TrueType) HasRune(r rune) bool {
	_, ok := t.face.NominalGlyph(r)
	return ok
}

// Width sums the shaped advances of text.
func (t *TrueType) Width(text string, size float64) float64 {
	var total float64
	for _, g := range t.Shape(text) {
		total += g.XAdvance
	}
	return total * size / 1000
}

// Show shapes text and encodes the glyph ids as two-byte codes. Where the
// shaper moved a glyph away from its nominal advance (kerning), a TJ
// adjustment follows the glyph.
func (t *TrueType) Show(text string) []contentstream.TJItem {
	var items []contentstream.TJItem
	var run []byte
	for _, g := range t.Shape(text) {
		gid := gofont.GID(g.ID)
		if prev, seen := t.used[gid]; !seen || len(prev) == 0 {
			t.used[gid] = g.Runes
		}
		run = append(run, byte(g.ID>>8), byte(g.ID))
		if adj := t.nominal(gid) - g.XAdvance; adj > 0.5 || adj < -0.5 {
			items = append(items, contentstream.TJItem{Codes: run}, contentstream.TJItem{Adjust: roundMilli(adj)})
			run = nil
		}
	}
	if len(run) > 0 {
		items = append(items, contentstream.TJItem{Codes: run})
	}
	return items
}

// nominal is the advance a viewer uses for gid from the /W array.
func (t *TrueType) nominal(gid gofont.GID) float64 {
	return roundMilli(float64(t.face.HorizontalAdvance(gid)) * 1000 / t.upem)
}

// Embed reserves the font dictionary; the subset and its descendant
// objects are written when doc is saved.
func (t *TrueType) Embed(doc *pdfdoc.Document) (raw.ObjectRef, error) {
	if t.doc == doc {
		return t.ref, nil
	}
	if t.doc != nil {
		return raw.ObjectRef{}, ErrForeignDocument
	}
	t.doc, t.ref = doc, doc.Reserve()
	doc.OnSave(t.finish)
	return t.ref, nil
}

func italicAngle(font *sfnt.Font) float64 {
	post := font.PostTable()
	if post == nil {
		return 0
	}
	return post.ItalicAngle
}

func scaleFixed(val fixed.Int26_6, unitsPerEm sfnt.Units) float64 {
	return float64(val) * 1000.0 / (64.0 * float64(unitsPerEm))
}

func roundMilli(v float64) float64 { return math.Round(v) }

// sanitizeName keeps the characters allowed in a PDF font name.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r > ' ' && r < 0x7f && !strings.ContainsRune("()<>[]{}/%#", r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
