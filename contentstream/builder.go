package contentstream

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/wudi/flyerkit/coords"
	"github.com/wudi/flyerkit/ir/raw"
)

// Builder accumulates content stream operators. Operators are written one
// per line; operands use raw.FormatReal so output is stable across runs.
type Builder struct {
	buf   bytes.Buffer
	depth int
}

func NewBuilder() *Builder { return &Builder{} }

// Bytes returns the stream so far.
func (b *Builder) Bytes() []byte { return b.buf.Bytes() }

// Len reports the number of bytes written.
func (b *Builder) Len() int { return b.buf.Len() }

// Depth reports the number of unmatched Save calls.
func (b *Builder) Depth() int { return b.depth }

func (b *Builder) op(name string, operands ...float64) *Builder {
	for _, v := range operands {
		b.buf.WriteString(raw.FormatReal(v))
		b.buf.WriteByte(' ')
	}
	b.buf.WriteString(name)
	b.buf.WriteByte('\n')
	return b
}

func (b *Builder) Save() *Builder {
	b.depth++
	return b.op("q")
}

func (b *Builder) Restore() *Builder {
	if b.depth > 0 {
		b.depth--
	}
	return b.op("Q")
}

// Transform concatenates m onto the current transformation matrix.
func (b *Builder) Transform(m coords.Matrix) *Builder {
	return b.op("cm", m[0], m[1], m[2], m[3], m[4], m[5])
}

func (b *Builder) Rect(x, y, w, h float64) *Builder { return b.op("re", x, y, w, h) }
func (b *Builder) MoveTo(x, y float64) *Builder     { return b.op("m", x, y) }
func (b *Builder) LineTo(x, y float64) *Builder     { return b.op("l", x, y) }
func (b *Builder) CurveTo(x1, y1, x2, y2, x3, y3 float64) *Builder {
	return b.op("c", x1, y1, x2, y2, x3, y3)
}
func (b *Builder) ClosePath() *Builder   { return b.op("h") }
func (b *Builder) Fill() *Builder        { return b.op("f") }
func (b *Builder) Stroke() *Builder      { return b.op("S") }
func (b *Builder) FillStroke() *Builder  { return b.op("B") }
func (b *Builder) EndPath() *Builder     { return b.op("n") }
func (b *Builder) Clip() *Builder        { return b.op("W") }
func (b *Builder) ClipEvenOdd() *Builder { return b.op("W*") }

func (b *Builder) SetFillRGB(r, g, bl float64) *Builder   { return b.op("rg", r, g, bl) }
func (b *Builder) SetStrokeRGB(r, g, bl float64) *Builder { return b.op("RG", r, g, bl) }
func (b *Builder) SetLineWidth(w float64) *Builder        { return b.op("w", w) }
func (b *Builder) SetLineCap(c LineCap) *Builder          { return b.op("J", float64(c)) }
func (b *Builder) SetLineJoin(j LineJoin) *Builder        { return b.op("j", float64(j)) }

// SetDash sets the dash pattern; an empty array restores solid lines.
func (b *Builder) SetDash(array []float64, phase float64) *Builder {
	b.buf.WriteByte('[')
	for i, v := range array {
		if i > 0 {
			b.buf.WriteByte(' ')
		}
		b.buf.WriteString(raw.FormatReal(v))
	}
	b.buf.WriteString("] ")
	return b.op("d", phase)
}

// SetExtGState selects a named graphics state resource.
func (b *Builder) SetExtGState(name string) *Builder { return b.named("gs", name) }

// DrawXObject paints a named XObject resource.
func (b *Builder) DrawXObject(name string) *Builder { return b.named("Do", name) }

func (b *Builder) named(op, name string, operands ...float64) *Builder {
	b.buf.WriteByte('/')
	b.buf.WriteString(name)
	b.buf.WriteByte(' ')
	return b.op(op, operands...)
}

func (b *Builder) BeginText() *Builder { return b.op("BT") }
func (b *Builder) EndText() *Builder   { return b.op("ET") }

func (b *Builder) SetFont(name string, size float64) *Builder { return b.named("Tf", name, size) }
func (b *Builder) SetTextMatrix(m coords.Matrix) *Builder {
	return b.op("Tm", m[0], m[1], m[2], m[3], m[4], m[5])
}
func (b *Builder) SetCharSpacing(v float64) *Builder          { return b.op("Tc", v) }
func (b *Builder) SetTextRenderMode(m TextRenderMode) *Builder { return b.op("Tr", float64(m)) }

// ShowHex paints already-encoded glyph codes as a hex string.
func (b *Builder) ShowHex(codes []byte) *Builder {
	b.buf.WriteByte('<')
	b.buf.WriteString(strings.ToUpper(hex.EncodeToString(codes)))
	b.buf.WriteString("> ")
	return b.op("Tj")
}

// TJItem is one element of a TJ array: a run of codes or a kerning
// adjustment in thousandths of text space (positive moves left).
type TJItem struct {
	Codes  []byte
	Adjust float64
}

// ShowArray writes a TJ operator. Items carrying codes are hex encoded.
func (b *Builder) ShowArray(items []TJItem) *Builder {
	b.buf.WriteByte('[')
	for i, it := range items {
		if i > 0 {
			b.buf.WriteByte(' ')
		}
		if it.Codes != nil {
			b.buf.WriteByte('<')
			b.buf.WriteString(strings.ToUpper(hex.EncodeToString(it.Codes)))
			b.buf.WriteByte('>')
			continue
		}
		b.buf.WriteString(raw.FormatReal(it.Adjust))
	}
	b.buf.WriteString("] ")
	return b.op("TJ")
}

// Comment writes a % comment line; used to tag overlay sections.
func (b *Builder) Comment(text string) *Builder {
	b.buf.WriteString("% ")
	b.buf.WriteString(strings.NewReplacer("\r", " ", "\n", " ").Replace(text))
	b.buf.WriteByte('\n')
	return b
}

// Raw appends pre-built operators verbatim.
func (b *Builder) Raw(data []byte) *Builder {
	b.buf.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		b.buf.WriteByte('\n')
	}
	return b
}

// Balance closes any Save left open.
func (b *Builder) Balance() *Builder {
	for b.depth > 0 {
		b.Restore()
	}
	return b
}
