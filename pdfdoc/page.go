package pdfdoc

import (
	"fmt"
	"math"
	"strconv"

	"github.com/wudi/flyerkit/contentstream"
	"github.com/wudi/flyerkit/coords"
	"github.com/wudi/flyerkit/ir/raw"
)

// Page is one leaf of the flattened page tree.
type Page struct {
	doc      *Document
	ref      raw.ObjectRef
	dict     *raw.DictObj
	index    int
	mediaBox coords.Rect
	rotate   int

	res     *raw.DictObj
	owned   map[string]*raw.DictObj
	names   map[string]string
	counter map[string]int
	overlay *contentstream.Builder
}

func (d *Document) newPage(ref raw.ObjectRef, dict *raw.DictObj) *Page {
	p := &Page{doc: d, ref: ref, dict: dict, index: len(d.pages)}
	p.mediaBox = coords.Rect{URX: DefaultPageWidth, URY: DefaultPageHeight}
	if arr, ok := d.raw.ResolveArray(mustLookup(dict, "MediaBox")); ok && arr.Len() == 4 {
		var v [4]float64
		valid := true
		for i, item := range arr.Items {
			n, ok := d.raw.ResolveNumber(item)
			if !ok {
				valid = false
				break
			}
			v[i] = n
		}
		box := coords.Rect{LLX: v[0], LLY: v[1], URX: v[2], URY: v[3]}.Normalize()
		if valid && box.Width() > 0 && box.Height() > 0 {
			p.mediaBox = box
		}
	}
	if n, ok := d.raw.ResolveNumber(mustLookup(dict, "Rotate")); ok {
		p.rotate = normalizeRotation(int(n))
	}
	return p
}

// normalizeRotation folds r into {0, 90, 180, 270}; other angles are invalid and become 0.
func normalizeRotation(r int) int {
	r = ((r % 360) + 360) % 360
	if r%90 != 0 {
		return 0
	}
	return r
}

// Ref is the page object's reference.
func (p *Page) Ref() raw.ObjectRef { return p.ref }

// Index is the zero-based position in the document.
func (p *Page) Index() int { return p.index }

func (p *Page) MediaBox() coords.Rect { return p.mediaBox }

// Rotation is the normalized /Rotate value in degrees clockwise.
func (p *Page) Rotation() int { return p.rotate }

// Size returns the displayed width and height in points, with rotation applied.
func (p *Page) Size() (w, h float64) {
	w, h = p.mediaBox.Width(), p.mediaBox.Height()
	if p.rotate == 90 || p.rotate == 270 {
		return h, w
	}
	return w, h
}

// DisplayMatrix maps displayed page coordinates (origin bottom-left of the
// page as a viewer shows it) into default user space.
func (p *Page) DisplayMatrix() coords.Matrix {
	w, h := p.mediaBox.Width(), p.mediaBox.Height()
	var tx, ty float64
	switch p.rotate {
	case 90:
		tx = w
	case 180:
		tx, ty = w, h
	case 270:
		ty = h
	}
	return coords.RotateDegrees(float64(p.rotate)).
		Multiply(coords.Translate(tx+p.mediaBox.LLX, ty+p.mediaBox.LLY))
}

// Content returns the overlay builder. Operators written to it use
// displayed coordinates and paint above the template's content.
func (p *Page) Content() *contentstream.Builder {
	if p.overlay == nil {
		p.overlay = contentstream.NewBuilder()
		if m := p.DisplayMatrix(); !m.IsIdentity() {
			p.overlay.Transform(m)
		}
	}
	return p.overlay
}

// UseFont registers a font object in the page resources and returns its name.
func (p *Page) UseFont(ref raw.ObjectRef) string {
	return p.use("Font", "F", ref.String(), raw.RefObj{R: ref})
}

// UseXObject registers an image or form XObject and returns its name.
func (p *Page) UseXObject(ref raw.ObjectRef) string {
	return p.use("XObject", "Im", ref.String(), raw.RefObj{R: ref})
}

// UseAlpha returns the name of an ExtGState setting fill and stroke
// opacity. Identical pairs share one entry per page.
func (p *Page) UseAlpha(fill, stroke float64) string {
	fill, stroke = clamp01(fill), clamp01(stroke)
	key := "ca:" + raw.FormatReal(fill) + "/" + raw.FormatReal(stroke)
	gs := raw.Dict()
	gs.Put("Type", raw.NameLiteral("ExtGState"))
	gs.Put("ca", raw.NumberFloat(roundAlpha(fill)))
	gs.Put("CA", raw.NumberFloat(roundAlpha(stroke)))
	return p.use("ExtGState", "GS", key, gs)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func roundAlpha(v float64) float64 { return math.Round(v*10000) / 10000 }

// use adds value under a fresh name in the category subdictionary. Names
// never collide with entries the template already defines.
func (p *Page) use(category, prefix, key string, value raw.Object) string {
	if p.names == nil {
		p.names = make(map[string]string)
		p.counter = make(map[string]int)
	}
	cacheKey := category + "|" + key
	if name, ok := p.names[cacheKey]; ok {
		return name
	}
	sub := p.subResources(category)
	var name string
	for {
		p.counter[category]++
		name = "FK" + prefix + strconv.Itoa(p.counter[category])
		if _, taken := sub.Lookup(name); !taken {
			break
		}
	}
	sub.Put(name, value)
	p.names[cacheKey] = name
	return name
}

// resources returns a page-private copy of the page's resource dictionary.
// Inherited or shared dictionaries are cloned so other pages keep theirs.
func (p *Page) resources() *raw.DictObj {
	if p.res != nil {
		return p.res
	}
	if existing, ok := p.doc.raw.ResolveDict(mustLookup(p.dict, "Resources")); ok {
		p.res = existing.Clone()
	} else {
		p.res = raw.Dict()
	}
	p.dict.Put("Resources", p.res)
	return p.res
}

func (p *Page) subResources(category string) *raw.DictObj {
	if sub, ok := p.owned[category]; ok {
		return sub
	}
	if p.owned == nil {
		p.owned = make(map[string]*raw.DictObj)
	}
	res := p.resources()
	sub := raw.Dict()
	if v, ok := res.Lookup(category); ok {
		if existing, ok := p.doc.raw.ResolveDict(v); ok {
			sub = existing.Clone()
		}
	}
	res.Put(category, sub)
	p.owned[category] = sub
	return sub
}

// flush wraps the template content as [q, original..., Q overlay] so the
// overlay starts from the default graphics state.
func (p *Page) flush() error {
	if p.overlay == nil || p.overlay.Len() == 0 {
		return nil
	}
	p.overlay.Balance()

	var contents []raw.Object
	if orig, ok := p.dict.Lookup("Contents"); ok {
		switch v := orig.(type) {
		case raw.RefObj:
			if arr, ok := p.doc.raw.ResolveArray(v); ok {
				contents = append(contents, arr.Items...)
			} else {
				contents = append(contents, v)
			}
		case *raw.ArrayObj:
			contents = append(contents, v.Items...)
		case *raw.StreamObj:
			contents = append(contents, raw.RefObj{R: p.doc.Add(v)})
		}
	}

	suffix := p.overlay.Bytes()
	if len(contents) > 0 {
		prefix, err := p.doc.AddStream(nil, []byte("q\n"))
		if err != nil {
			return err
		}
		contents = append([]raw.Object{raw.RefObj{R: prefix}}, contents...)
		suffix = append([]byte("Q\n"), suffix...)
	}
	overlay, err := p.doc.AddStream(nil, suffix)
	if err != nil {
		return fmt.Errorf("overlay stream: %w", err)
	}
	contents = append(contents, raw.RefObj{R: overlay})
	p.dict.Put("Contents", raw.NewArray(contents...))
	p.resources()
	p.overlay = nil
	return nil
}
