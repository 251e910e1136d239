// Package pdfdoc is the page-level view of a template: a flattened page
// list, blank page creation, per-page resource registration and overlay
// content that is appended after the template's own content streams.
package pdfdoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/wudi/flyerkit/filters"
	"github.com/wudi/flyerkit/ir/raw"
	"github.com/wudi/flyerkit/parser"
	"github.com/wudi/flyerkit/recovery"
	"github.com/wudi/flyerkit/security"
	"github.com/wudi/flyerkit/writer"
)

var (
	// ErrNoPageTree is returned when the catalog has no usable /Pages.
	ErrNoPageTree = errors.New("catalog has no page tree")
	// ErrPageTreeTooDeep is returned when the page tree nests beyond the limit or loops.
	ErrPageTreeTooDeep = errors.New("page tree too deep")
)

// Default page size when a template page has no MediaBox anywhere in its ancestry.
const (
	DefaultPageWidth  = 612
	DefaultPageHeight = 792
)

// Document wraps a parsed raw document. Pages are flattened under the root
// /Pages node on Open, so Pages() order is the reading order.
type Document struct {
	raw      *raw.Document
	rootRef  raw.ObjectRef
	root     *raw.DictObj
	pages    []*Page
	nextNum  int
	finalize []func() error
	repairs  int
}

// Options tunes Open. The zero value parses leniently with default limits.
type Options struct {
	Limits   security.Limits
	Recovery recovery.Strategy
}

// Open parses a template. Damaged cross-reference data is repaired when the
// recovery strategy allows; encrypted files are rejected with parser.ErrEncrypted.
func Open(ctx context.Context, data []byte, opts Options) (*Document, error) {
	if opts.Recovery == nil {
		opts.Recovery = recovery.NewLenientStrategy()
	}
	limits := opts.Limits.WithDefaults()
	doc, err := parser.NewDocumentParser(parser.Config{Recovery: opts.Recovery, Limits: limits}).Parse(ctx, data)
	if err != nil {
		return nil, err
	}
	d, err := fromRaw(doc, limits.MaxPageTreeDepth)
	if err != nil {
		return nil, err
	}
	if l, ok := opts.Recovery.(*recovery.Lenient); ok {
		d.repairs = l.Count()
	}
	return d, nil
}

// Repairs is the number of structural problems a lenient Open fixed.
func (d *Document) Repairs() int { return d.repairs }

// New returns an empty document with a catalog and a page tree of zero pages.
func New() *Document {
	doc := &raw.Document{Objects: make(map[raw.ObjectRef]raw.Object), Version: "1.7"}
	pages := raw.Dict()
	pages.Put("Type", raw.NameLiteral("Pages"))
	pages.Put("Kids", raw.NewArray())
	pages.Put("Count", raw.NumberInt(0))
	pagesRef := raw.ObjectRef{Num: 2}
	doc.Objects[pagesRef] = pages

	catalog := raw.Dict()
	catalog.Put("Type", raw.NameLiteral("Catalog"))
	catalog.Put("Pages", raw.RefObj{R: pagesRef})
	doc.Objects[raw.ObjectRef{Num: 1}] = catalog

	doc.Trailer = raw.Dict()
	doc.Trailer.Put("Root", raw.Ref(1, 0))
	return &Document{raw: doc, rootRef: pagesRef, root: pages, nextNum: 3}
}

func fromRaw(doc *raw.Document, maxDepth int) (*Document, error) {
	catalog, ok := doc.ResolveDict(mustLookup(doc.Trailer, "Root"))
	if !ok {
		return nil, parser.ErrNoCatalog
	}
	pagesObj, ok := catalog.Lookup("Pages")
	if !ok {
		return nil, ErrNoPageTree
	}
	rootRef, isRef := pagesObj.(raw.RefObj)
	root, ok := doc.ResolveDict(pagesObj)
	if !ok {
		return nil, ErrNoPageTree
	}
	d := &Document{raw: doc, root: root, nextNum: doc.MaxObjectNumber() + 1}
	if isRef {
		d.rootRef = rootRef.R
	} else {
		d.rootRef = d.Add(root)
		catalog.Put("Pages", raw.RefObj{R: d.rootRef})
	}

	var dropped []raw.ObjectRef
	visited := map[raw.ObjectRef]bool{d.rootRef: true}
	var walk func(node *raw.DictObj, inherited inheritance, depth int) error
	walk = func(node *raw.DictObj, inherited inheritance, depth int) error {
		if depth > maxDepth {
			return ErrPageTreeTooDeep
		}
		inherited = inherited.merge(node)
		kids, _ := doc.ResolveArray(mustLookup(node, "Kids"))
		if kids == nil {
			return nil
		}
		for _, kid := range kids.Items {
			ref, ok := kid.(raw.RefObj)
			if !ok || visited[ref.R] {
				continue
			}
			visited[ref.R] = true
			child, ok := doc.ResolveDict(kid)
			if !ok {
				continue
			}
			typ := child.NameValue("Type")
			_, hasKids := child.Lookup("Kids")
			if typ == "Pages" || (typ == "" && hasKids) {
				dropped = append(dropped, ref.R)
				if err := walk(child, inherited, depth+1); err != nil {
					return err
				}
				continue
			}
			inherited.apply(child)
			d.pages = append(d.pages, d.newPage(ref.R, child))
		}
		return nil
	}
	if err := walk(root, inheritance{}, 0); err != nil {
		return nil, err
	}
	for _, ref := range dropped {
		delete(doc.Objects, ref)
	}
	for _, key := range []string{"MediaBox", "CropBox", "Resources", "Rotate"} {
		root.Delete(key)
	}
	root.Put("Type", raw.NameLiteral("Pages"))
	root.Delete("Parent")
	d.syncKids()
	return d, nil
}

// inheritance carries the page attributes a /Pages node passes to its kids.
type inheritance struct {
	mediaBox, cropBox, resources, rotate raw.Object
}

func (in inheritance) merge(node *raw.DictObj) inheritance {
	if v, ok := node.Lookup("MediaBox"); ok {
		in.mediaBox = v
	}
	if v, ok := node.Lookup("CropBox"); ok {
		in.cropBox = v
	}
	if v, ok := node.Lookup("Resources"); ok {
		in.resources = v
	}
	if v, ok := node.Lookup("Rotate"); ok {
		in.rotate = v
	}
	return in
}

func (in inheritance) apply(page *raw.DictObj) {
	set := func(key string, v raw.Object) {
		if _, ok := page.Lookup(key); !ok && v != nil {
			page.Put(key, v)
		}
	}
	set("MediaBox", in.mediaBox)
	set("CropBox", in.cropBox)
	set("Resources", in.resources)
	set("Rotate", in.rotate)
}

func mustLookup(d *raw.DictObj, key string) raw.Object {
	if v, ok := d.Lookup(key); ok {
		return v
	}
	return raw.NullObj{}
}

func (d *Document) syncKids() {
	kids := make([]raw.Object, 0, len(d.pages))
	for _, p := range d.pages {
		kids = append(kids, raw.RefObj{R: p.ref})
		p.dict.Put("Parent", raw.RefObj{R: d.rootRef})
	}
	d.root.Put("Kids", raw.NewArray(kids...))
	d.root.Put("Count", raw.NumberInt(int64(len(d.pages))))
}

// Raw exposes the underlying object graph.
func (d *Document) Raw() *raw.Document { return d.raw }

// Pages returns the pages in reading order.
func (d *Document) Pages() []*Page { return d.pages }

func (d *Document) NumPages() int { return len(d.pages) }

// Page returns the page at zero-based index i.
func (d *Document) Page(i int) (*Page, bool) {
	if i < 0 || i >= len(d.pages) {
		return nil, false
	}
	return d.pages[i], true
}

// Add stores obj as a new indirect object.
func (d *Document) Add(obj raw.Object) raw.ObjectRef {
	ref := raw.ObjectRef{Num: d.nextNum}
	d.nextNum++
	d.raw.Objects[ref] = obj
	return ref
}

// Reserve allocates an object number whose value is supplied later with Set.
// Until then the object is null.
func (d *Document) Reserve() raw.ObjectRef { return d.Add(raw.NullObj{}) }

// Set replaces the object stored under ref.
func (d *Document) Set(ref raw.ObjectRef, obj raw.Object) { d.raw.Objects[ref] = obj }

// AddStream stores data as a Flate-compressed stream with the given dictionary entries.
func (d *Document) AddStream(dict *raw.DictObj, data []byte) (raw.ObjectRef, error) {
	if dict == nil {
		dict = raw.Dict()
	}
	encoded, err := filters.FlateEncode(data)
	if err != nil {
		return raw.ObjectRef{}, fmt.Errorf("compress stream: %w", err)
	}
	dict.Put("Filter", raw.NameLiteral("FlateDecode"))
	return d.Add(raw.NewStream(dict, encoded)), nil
}

// OnSave registers fn to run before serialization, in registration order.
// Font embedding uses it to write subsets once every glyph is known.
func (d *Document) OnSave(fn func() error) { d.finalize = append(d.finalize, fn) }

// AppendBlankPage adds an empty page of w×h points. rotate is normalized
// to a multiple of 90.
func (d *Document) AppendBlankPage(w, h float64, rotate int) (*Page, error) {
	if !(w > 0) || !(h > 0) || math.IsInf(w, 0) || math.IsInf(h, 0) {
		return nil, fmt.Errorf("blank page size %gx%g is invalid", w, h)
	}
	dict := raw.Dict()
	dict.Put("Type", raw.NameLiteral("Page"))
	dict.Put("MediaBox", raw.Numbers(0, 0, w, h))
	dict.Put("Resources", raw.Dict())
	if r := normalizeRotation(rotate); r != 0 {
		dict.Put("Rotate", raw.NumberInt(int64(r)))
	}
	ref := d.Add(dict)
	p := d.newPage(ref, dict)
	d.pages = append(d.pages, p)
	d.syncKids()
	return p, nil
}

// Save serializes the document with deterministic output.
func (d *Document) Save(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Write(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write flushes pending overlays and fonts, then writes a complete file to out.
func (d *Document) Write(ctx context.Context, out io.Writer) error {
	for _, fn := range d.finalize {
		if err := fn(); err != nil {
			return err
		}
	}
	d.finalize = nil
	for _, p := range d.pages {
		if err := p.flush(); err != nil {
			return fmt.Errorf("page %d: %w", p.index+1, err)
		}
	}
	return writer.New(writer.Config{Deterministic: true}).Write(ctx, d.raw, out)
}
