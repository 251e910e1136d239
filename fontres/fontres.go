// Package fontres resolves editor font references to faces and embeds each
// distinct font file at most once per output document.
package fontres

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/wudi/flyerkit/diag"
	"github.com/wudi/flyerkit/fonts"
	"github.com/wudi/flyerkit/ir/raw"
	"github.com/wudi/flyerkit/observability"
	"github.com/wudi/flyerkit/pdfdoc"
)

// Weight buckets.
const (
	Regular = 400
	Bold    = 700
)

// Tenant font references use one of these family prefixes followed by the
// tenant font id.
var tenantPrefixes = []string{"tenant:", "tenant-font-", "tenant_font_"}

// Tables are the font lookup tables of one render.
type Tables struct {
	// Tenant maps tenant font ids to font files.
	Tenant map[string]string
	// Global maps shared family keys to font files.
	Global map[string]string
	// Files maps "family|weight" or "family" keys to font files.
	Files map[string]string
}

// Loader reads a font file.
type Loader func(path string) ([]byte, error)

// Resolver is render-scoped; it is not safe for concurrent use.
type Resolver struct {
	doc    *pdfdoc.Document
	load   Loader
	logger observability.Logger

	tenant map[string]string
	global map[string]string
	files  map[string]string

	faces  map[string]fonts.Face
	failed map[string]error
	refs   map[fonts.Face]raw.ObjectRef
}

type Option func(*Resolver)

func WithLoader(l Loader) Option { return func(r *Resolver) { r.load = l } }

func WithLogger(l observability.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(doc *pdfdoc.Document, t Tables, opts ...Option) *Resolver {
	r := &Resolver{
		doc:    doc,
		load:   os.ReadFile,
		logger: observability.NopLogger{},
		tenant: make(map[string]string, len(t.Tenant)),
		global: make(map[string]string, len(t.Global)),
		files:  make(map[string]string, len(t.Files)),
		faces:  make(map[string]fonts.Face),
		failed: make(map[string]error),
		refs:   make(map[fonts.Face]raw.ObjectRef),
	}
	for k, v := range t.Tenant {
		r.tenant[strings.TrimSpace(k)] = v
	}
	for k, v := range t.Global {
		r.global[NormalizeKey(k)] = v
	}
	for k, v := range t.Files {
		family, weight, hasWeight := strings.Cut(k, "|")
		key := NormalizeKey(family)
		if hasWeight {
			key += "|" + strconv.Itoa(WeightBucket(weight))
		}
		r.files[key] = v
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the face for family at the weight bucket of hint. When
// the family is unknown or its file cannot be loaded, the built-in default
// face is returned together with an error wrapping
// diag.ErrResourceUnresolved; the face is always usable.
func (r *Resolver) Resolve(family, hint string) (fonts.Face, error) {
	weight := WeightBucket(hint)
	bold := weight >= Bold
	if strings.TrimSpace(family) == "" {
		return fonts.Default(bold), nil
	}
	if f, ok := fonts.LookupStandard(family, bold); ok {
		return f, nil
	}
	path, ok := r.lookup(family, weight)
	if !ok {
		return fonts.Default(bold), diag.Wrap(diag.ErrResourceUnresolved, fmt.Errorf("font %q weight %d not found", family, weight))
	}
	face, err := r.open(path, weight)
	if err != nil {
		return fonts.Default(bold), diag.Wrap(diag.ErrResourceUnresolved, err)
	}
	return face, nil
}

func (r *Resolver) lookup(family string, weight int) (string, bool) {
	trimmed := strings.TrimSpace(family)
	for _, prefix := range tenantPrefixes {
		if id, ok := strings.CutPrefix(trimmed, prefix); ok {
			path, found := r.tenant[strings.TrimSpace(id)]
			return path, found && path != ""
		}
	}
	key := NormalizeKey(family)
	if path := r.global[key]; path != "" {
		return path, true
	}
	if path := r.files[key+"|"+strconv.Itoa(weight)]; path != "" {
		return path, true
	}
	if path := r.files[key]; path != "" {
		return path, true
	}
	// any weight of the family
	for _, w := range []int{Regular, Bold} {
		if path := r.files[key+"|"+strconv.Itoa(w)]; path != "" {
			return path, true
		}
	}
	return "", false
}

// open loads path once per (file, weight); failures are remembered too.
func (r *Resolver) open(path string, weight int) (fonts.Face, error) {
	id := path + "|" + strconv.Itoa(weight)
	if f, ok := r.faces[id]; ok {
		return f, nil
	}
	if err, ok := r.failed[id]; ok {
		return nil, err
	}
	data, err := r.load(path)
	if err == nil {
		var tt *fonts.TrueType
		tt, err = fonts.LoadTrueType(baseName(path), data)
		if err == nil {
			r.faces[id] = tt
			r.logger.Debug("font loaded", observability.String("path", path), observability.Int("weight", weight), observability.String("name", tt.Name()))
			return tt, nil
		}
	}
	err = fmt.Errorf("font %s: %w", path, err)
	r.failed[id] = err
	r.logger.Warn("font unusable, using built-in face", observability.String("path", path), observability.Error("error", err))
	return nil, err
}

// Use embeds face into the document once and registers it on page,
// returning the resource name.
func (r *Resolver) Use(page *pdfdoc.Page, face fonts.Face) (string, error) {
	ref, ok := r.refs[face]
	if !ok {
		var err error
		ref, err = face.Embed(r.doc)
		if err != nil {
			return "", fmt.Errorf("embed %s: %w", face.Name(), err)
		}
		r.refs[face] = ref
	}
	return page.UseFont(ref), nil
}

// Embedded reports how many distinct faces were embedded.
func (r *Resolver) Embedded() int { return len(r.refs) }

// WeightBucket maps a free-text weight hint to 400 or 700. Numeric hints
// of 600 and above and names such as "bold" or "black" are bold.
func WeightBucket(hint string) int {
	h := strings.ToLower(strings.TrimSpace(hint))
	if h == "" {
		return Regular
	}
	if n, err := strconv.Atoi(h); err == nil {
		if n >= 600 {
			return Bold
		}
		return Regular
	}
	for _, word := range []string{"bold", "black", "heavy", "bolder", "fat"} {
		if strings.Contains(h, word) {
			return Bold
		}
	}
	return Regular
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// NormalizeKey folds case, strips accents and drops separators so
// "Montserrat ExtraBold", "montserrat-extrabold" and "Montsérrat_Extrabold"
// share a key.
func NormalizeKey(s string) string {
	t := transform.Chain(norm.NFD, stripMarks, norm.NFC, cases.Fold())
	out, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		out = strings.ToLower(strings.TrimSpace(s))
	}
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '_' || r == '.' {
			return -1
		}
		return r
	}, out)
}

func baseName(path string) string {
	b := filepath.Base(path)
	return strings.TrimSuffix(b, filepath.Ext(b))
}
