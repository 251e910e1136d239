package draft

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/wudi/flyerkit/diag"
)

// ErrUnknownKind is recorded for objects whose kind matches no variant.
var ErrUnknownKind = errors.New("unknown object kind")

// Normalize decodes editor JSON into a Draft. Keys may be camelCase or
// snake_case and the object discriminator may be "kind" or "type".
// Objects that cannot be typed are dropped and reported; only malformed
// JSON is an error.
func Normalize(data []byte) (*Draft, []diag.Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, nil, fmt.Errorf("decode draft: %w", err)
	}
	d, entries := FromMap(root)
	return d, entries, nil
}

// FromMap normalizes an already decoded draft.
func FromMap(root map[string]any) (*Draft, []diag.Entry) {
	n := &normalizer{}
	m := snakeKeys(root).(map[string]any)
	d := &Draft{Fonts: make(map[string]string)}

	for i, raw := range list(first(m, "pages")) {
		pm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		page := Page{Index: i}
		if idx, ok := number(first(pm, "index", "page", "page_index")); ok && idx >= 0 {
			page.Index = int(idx)
		}
		page.Viewport = viewport(first(pm, "viewport"))
		for j, ro := range list(first(pm, "objects", "items", "elements")) {
			om, ok := ro.(map[string]any)
			if !ok {
				continue
			}
			if obj := n.object(page.Index, j, om); obj != nil {
				page.Objects = append(page.Objects, obj)
			}
		}
		d.Pages = append(d.Pages, page)
	}
	sort.SliceStable(d.Pages, func(a, b int) bool { return d.Pages[a].Index < d.Pages[b].Index })

	for i, raw := range list(first(m, "appended_pages", "append_pages", "added_pages", "new_pages")) {
		pm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		w, _ := number(first(pm, "width", "w"))
		h, _ := number(first(pm, "height", "h"))
		rot, _ := number(first(pm, "rotation", "rotate"))
		if !(w > 0) || !(h > 0) {
			n.add(diag.Entry{Page: -1, ObjectID: "appended#" + strconv.Itoa(i), Kind: "page",
				Action: diag.ActionSkip, Err: diag.Wrap(diag.ErrGeometryInvalid, fmt.Errorf("appended page size %vx%v", w, h))})
			continue
		}
		d.AppendedPages = append(d.AppendedPages, PageSpec{Width: w, Height: h, Rotation: int(rot)})
	}

	if fm, ok := first(m, "fonts", "font_files").(map[string]any); ok {
		for k, v := range fm {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				d.Fonts[k] = s
			}
		}
	}
	return d, n.entries
}

type normalizer struct {
	entries []diag.Entry
}

func (n *normalizer) add(e diag.Entry) { n.entries = append(n.entries, e) }

func (n *normalizer) object(page, pos int, m map[string]any) Object {
	id := str(first(m, "id", "uid", "name"))
	if id == "" {
		id = "#" + strconv.Itoa(pos)
	}
	kind := strings.ToLower(strings.TrimSpace(str(first(m, "kind", "type"))))

	base := Base{ID: id, Geometry: geometry(m), Style: n.style(page, id, m)}
	if strings.EqualFold(str(first(m, "layer")), "back") {
		base.Layer = LayerBack
	}

	switch kind {
	case "text", "textbox", "i-text", "itext":
		return n.text(page, base, m)
	case "image", "img":
		return &Image{Base: base, Sources: sources(m)}
	case "rect", "roundrect", "round_rect", "line", "shape":
		return n.shape(page, base, kind, m)
	case "clipmask", "clip_mask", "mask", "frame":
		return n.clipMask(base, m)
	}
	n.add(diag.Entry{Page: page, ObjectID: id, Kind: kind, Action: diag.ActionSkip,
		Err: fmt.Errorf("%w: %q", ErrUnknownKind, kind)})
	return nil
}

func geometry(m map[string]any) Geometry {
	var g Geometry
	g.X, _ = number(first(m, "x", "left"))
	g.Y, _ = number(first(m, "y", "top"))
	g.W, _ = number(first(m, "w", "width"))
	g.H, _ = number(first(m, "h", "height"))
	g.Angle, _ = number(first(m, "angle", "rotation"))
	xr, okX := number(first(m, "x_rel"))
	yr, okY := number(first(m, "y_rel"))
	wr, okW := number(first(m, "w_rel"))
	hr, okH := number(first(m, "h_rel"))
	if okX && okY && okW && okH {
		g.Rel = &Rel{X: xr, Y: yr, W: wr, H: hr}
	}
	return g
}

func (n *normalizer) style(page int, id string, m map[string]any) Style {
	var s Style
	s.Fill = n.color(page, id, first(m, "fill", "color", "fill_color"))
	s.Stroke = n.color(page, id, first(m, "stroke", "stroke_color", "border_color"))
	s.Background = n.color(page, id, first(m, "background", "background_color", "bg_color"))
	s.StrokeWidth, _ = number(first(m, "stroke_width", "border_width"))
	if v, ok := number(first(m, "background_opacity", "bg_opacity")); ok {
		v = clamp(v, 0, 1)
		s.BackgroundOpacity = &v
	}
	if v, ok := number(first(m, "opacity")); ok {
		v = clamp(v, 0, 1)
		s.Opacity = &v
	}
	return s
}

func (n *normalizer) color(page int, id string, v any) *Color {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	c, err := ParseColor(s)
	if err != nil {
		n.add(diag.Entry{Page: page, ObjectID: id, Kind: "style", Action: diag.ActionDegrade, Err: err})
		return nil
	}
	if c.Transparent() {
		return nil
	}
	return &c
}

func (n *normalizer) text(page int, base Base, m map[string]any) *Text {
	t := &Text{
		Base:       base,
		Text:       str(first(m, "text", "content", "value")),
		FontFamily: str(first(m, "font_family", "font")),
		FontWeight: str(first(m, "font_weight", "weight")),
		Align:      AlignLeft,
	}
	t.FontSize, _ = number(first(m, "font_size", "size"))
	t.LetterSpacing, _ = number(first(m, "letter_spacing", "char_spacing"))
	switch strings.ToLower(str(first(m, "text_align", "align"))) {
	case "center", "centre", "middle":
		t.Align = AlignCenter
	case "right", "end":
		t.Align = AlignRight
	}
	switch strings.ToLower(str(first(m, "vertical_align", "v_align", "valign"))) {
	case "middle", "center", "centre":
		t.VCenter = true
	}
	if bm, ok := first(m, "dynamic", "binding", "data_binding").(map[string]any); ok {
		t.Binding = binding(bm)
	}
	return t
}

func binding(m map[string]any) *Binding {
	b := &Binding{
		Kind:      BindingKind(strings.ToLower(str(first(m, "kind", "type", "field")))),
		ProductID: str(first(m, "product_id", "product")),
		PriceMode: PriceBase,
		TierID:    str(first(m, "tier_id", "tier")),
		ModeAgent: StockPolicy(strings.ToLower(str(first(m, "mode_agent")))),
		ModeLabo:  StockPolicy(strings.ToLower(str(first(m, "mode_labo")))),
		Text:      str(first(m, "text", "label", "fallback_text")),
	}
	if strings.EqualFold(str(first(m, "price_mode", "mode")), "tier") {
		b.PriceMode = PriceTier
	}
	if v, ok := first(m, "plain").(bool); ok {
		b.PlainPrice = v
	}
	return b
}

func (n *normalizer) shape(page int, base Base, kind string, m map[string]any) *Shape {
	s := &Shape{Base: base, Shape: shapeKind(kind, m)}
	s.Radius, _ = number(first(m, "radius", "corner_radius", "rx", "border_radius"))
	if s.Shape == ShapeRoundRect && s.Radius <= 0 {
		s.Shape = ShapeRect
	}
	if s.Shape == ShapeRect && s.Radius > 0 {
		s.Shape = ShapeRoundRect
	}
	if gm, ok := first(m, "gradient").(map[string]any); ok {
		s.Gradient = n.gradient(page, base.ID, gm)
	}
	return s
}

func shapeKind(kind string, m map[string]any) ShapeKind {
	if kind == "shape" {
		kind = strings.ToLower(str(first(m, "shape", "shape_type", "variant")))
	}
	switch kind {
	case "line":
		return ShapeLine
	case "roundrect", "round_rect", "rounded_rect":
		return ShapeRoundRect
	default:
		return ShapeRect
	}
}

func (n *normalizer) gradient(page int, id string, m map[string]any) *Gradient {
	g := &Gradient{Kind: GradientLinear}
	if strings.EqualFold(str(first(m, "type", "kind")), "radial") {
		g.Kind = GradientRadial
	}
	g.Angle, _ = number(first(m, "angle"))
	from, to := first(m, "from", "start", "color1"), first(m, "to", "end", "color2")
	if stops := list(first(m, "colors", "stops")); len(stops) >= 2 {
		from, to = stopColor(stops[0]), stopColor(stops[len(stops)-1])
	}
	fc, tc := n.color(page, id, from), n.color(page, id, to)
	if fc == nil && tc == nil {
		return nil
	}
	if fc == nil {
		fc = &Color{R: tc.R, G: tc.G, B: tc.B}
	}
	if tc == nil {
		tc = &Color{R: fc.R, G: fc.G, B: fc.B}
	}
	g.From, g.To = *fc, *tc
	return g
}

func stopColor(v any) any {
	if m, ok := v.(map[string]any); ok {
		return first(m, "color")
	}
	return v
}

func (n *normalizer) clipMask(base Base, m map[string]any) *ClipMask {
	c := &ClipMask{Base: base, Shape: ShapeRect, Sources: sources(m), Scale: 1}
	c.Radius, _ = number(first(m, "radius", "corner_radius", "rx", "border_radius"))
	if c.Radius > 0 || strings.Contains(strings.ToLower(str(first(m, "shape"))), "round") {
		c.Shape = ShapeRoundRect
	}
	tm := m
	if t, ok := first(m, "transform", "image_transform").(map[string]any); ok {
		tm = t
	}
	if v, ok := number(first(tm, "scale", "zoom")); ok {
		c.Scale = v
	}
	c.OffsetX, _ = number(first(tm, "offset_x", "pan_x"))
	c.OffsetY, _ = number(first(tm, "offset_y", "pan_y"))
	return c
}

func sources(m map[string]any) []string {
	var out []string
	seen := make(map[string]bool)
	push := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, v := range list(first(m, "sources", "srcs", "candidates")) {
		push(str(v))
	}
	for _, key := range []string{"src", "url", "image", "image_url", "fallback_src"} {
		if s, ok := m[key].(string); ok {
			push(s)
		}
	}
	return out
}

func viewport(v any) *Viewport {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	vp := &Viewport{Zoom: 1}
	vp.BaseWidth, _ = number(first(m, "base_width", "width"))
	vp.BaseHeight, _ = number(first(m, "base_height", "height"))
	if z, ok := number(first(m, "zoom", "scale")); ok && z > 0 {
		vp.Zoom = z
	}
	return vp
}

// first returns the value of the first present key.
func first(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	case float64:
		f = n
	case int:
		f = float64(n)
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "px"), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// snakeKeys rewrites every map key in v from camelCase to snake_case.
func snakeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			sk := snake(k)
			// An explicit snake_case key beats its camelCase alias.
			if _, exists := out[sk]; exists && sk != k {
				continue
			}
			out[sk] = snakeKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = snakeKeys(val)
		}
		return out
	}
	return v
}

func snake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if r == '-' && i > 0 {
			r = '_'
		}
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
