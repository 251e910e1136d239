package compositor

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/wudi/flyerkit/catalog"
	"github.com/wudi/flyerkit/config"
	"github.com/wudi/flyerkit/coords"
	"github.com/wudi/flyerkit/diag"
	"github.com/wudi/flyerkit/draft"
	"github.com/wudi/flyerkit/fields"
	"github.com/wudi/flyerkit/fontres"
	"github.com/wudi/flyerkit/geometry"
	"github.com/wudi/flyerkit/observability"
	"github.com/wudi/flyerkit/pdfdoc"
)

func makeTemplate(t *testing.T, pages int) []byte {
	t.Helper()
	doc := pdfdoc.New()
	for i := 0; i < pages; i++ {
		if _, err := doc.AppendBlankPage(595, 842, 0); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	out, err := doc.Save(context.Background())
	if err != nil {
		t.Fatalf("save template: %v", err)
	}
	return out
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// viewport maps one editor pixel to one point on an A4 page.
var viewport = &draft.Viewport{BaseWidth: 595, BaseHeight: 842, Zoom: 1}

func base(id string, x, y, w, h float64) draft.Base {
	return draft.Base{
		ID:       id,
		Geometry: draft.Geometry{X: x, Y: y, W: w, H: h},
	}
}

type recorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	renders  int
}

func newRecorder() *recorder { return &recorder{outcomes: make(map[string]int)} }

func (r *recorder) RenderFinished(float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders++
}

func (r *recorder) ObjectRendered(kind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[kind+"/"+outcome]++
}

func (r *recorder) ImageFetched(string, string) {}

func TestRenderAppendsPages(t *testing.T) {
	d := &draft.Draft{
		AppendedPages: []draft.PageSpec{{Width: 595, Height: 842}, {Width: 842, Height: 595}, {Width: 300, Height: 300, Rotation: 90}},
		Pages: []draft.Page{{Index: 4, Viewport: viewport, Objects: []draft.Object{
			&draft.Text{Base: base("t", 10, 10, 200, 30), Text: "Sur une page ajoutée"},
		}}},
	}
	res, err := Render(context.Background(), makeTemplate(t, 2), d, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if res.Pages != 5 {
		t.Fatalf("pages = %d, want 5", res.Pages)
	}
	if len(res.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
	}
	out, err := pdfdoc.Open(context.Background(), res.PDF, pdfdoc.Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if out.NumPages() != 5 {
		t.Fatalf("reopened pages = %d", out.NumPages())
	}
	if res.RenderID == "" {
		t.Fatalf("missing render id")
	}
}

func mixedDraft(t *testing.T) *draft.Draft {
	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t))
	red := &draft.Color{R: 220, G: 20, B: 20, A: 1}
	return &draft.Draft{Pages: []draft.Page{{Index: 0, Viewport: viewport, Objects: []draft.Object{
		&draft.Text{Base: base("title", 40, 40, 300, 40), Text: "Promo\nde printemps", FontSize: 18, Align: draft.AlignCenter},
		&draft.Shape{Base: draft.Base{ID: "bg", Layer: draft.LayerBack, Geometry: draft.Geometry{X: 0, Y: 0, W: 595, H: 120},
			Style: draft.Style{}}, Shape: draft.ShapeRoundRect, Radius: 12,
			Gradient: &draft.Gradient{Kind: draft.GradientLinear, Angle: 45, From: *red, To: draft.Color{B: 200, A: 1}}},
		&draft.Shape{Base: draft.Base{ID: "rule", Geometry: draft.Geometry{X: 40, Y: 130, W: 500, H: 0, Angle: 10},
			Style: draft.Style{Stroke: red, StrokeWidth: 2}}, Shape: draft.ShapeLine},
		&draft.Image{Base: base("logo", 400, 200, 80, 80), Sources: []string{dataURI}},
		&draft.ClipMask{Base: base("photo", 40, 200, 120, 90), Shape: draft.ShapeRoundRect, Radius: 10, Sources: []string{dataURI}, Scale: 1.5, OffsetX: 4},
	}}}}
}

func TestRenderIsDeterministic(t *testing.T) {
	tpl := makeTemplate(t, 1)
	a, err := Render(context.Background(), tpl, mixedDraft(t), nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	b, err := Render(context.Background(), tpl, mixedDraft(t), nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.Equal(a.PDF, b.PDF) {
		t.Fatalf("identical inputs produced different output")
	}
	if a.RenderID == b.RenderID {
		t.Fatalf("render ids should differ")
	}
	if len(a.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %v", a.Diagnostics)
	}
}

func TestRenderSkipsDegenerateGeometry(t *testing.T) {
	rec := newRecorder()
	d := &draft.Draft{Pages: []draft.Page{{Index: 0, Viewport: viewport, Objects: []draft.Object{
		&draft.Text{Base: base("flat", 10, 10, 0, 20), Text: "x"},
		&draft.Shape{Base: base("away", 900, 10, 50, 50), Shape: draft.ShapeRect},
		&draft.Text{Base: base("ok", 10, 10, 100, 20), Text: "x"},
	}}}}
	res, err := Render(context.Background(), makeTemplate(t, 1), d, nil, WithMetrics(rec))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(res.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %v", res.Diagnostics)
	}
	for _, e := range res.Diagnostics {
		if !errors.Is(e.Err, diag.ErrGeometryInvalid) || e.Action != diag.ActionSkip {
			t.Fatalf("unexpected entry %v", e)
		}
	}
	if rec.outcomes["text/drawn"] != 1 || rec.outcomes["text/skipped"] != 1 || rec.outcomes["shape/skipped"] != 1 {
		t.Fatalf("outcomes %v", rec.outcomes)
	}
	if rec.renders != 1 {
		t.Fatalf("render not recorded")
	}
}

func TestRenderUnsetOpacityIsOpaque(t *testing.T) {
	red := &draft.Color{R: 200, A: 1}
	shape := func(opacity *float64) *draft.Draft {
		b := base("box", 10, 10, 100, 50)
		b.Style = draft.Style{Fill: red, Opacity: opacity}
		return &draft.Draft{Pages: []draft.Page{{Index: 0, Viewport: viewport, Objects: []draft.Object{
			&draft.Shape{Base: b, Shape: draft.ShapeRect},
		}}}}
	}
	tpl := makeTemplate(t, 1)

	res, err := Render(context.Background(), tpl, shape(nil), nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(res.Diagnostics) != 0 {
		t.Fatalf("diagnostics = %v", res.Diagnostics)
	}
	if bytes.Contains(res.PDF, []byte("/ExtGState")) {
		t.Fatalf("opaque fill should not need a graphics state")
	}

	res, err = Render(context.Background(), tpl, shape(ptr(0.5)), nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.Contains(res.PDF, []byte("/ca 0.5")) {
		t.Fatalf("half opacity not applied")
	}
}

func TestRenderFontFallback(t *testing.T) {
	d := &draft.Draft{Pages: []draft.Page{{Index: 0, Viewport: viewport, Objects: []draft.Object{
		&draft.Text{Base: base("t", 10, 10, 200, 30), Text: "Bonjour", FontFamily: "No Such Family", FontWeight: "800"},
	}}}}
	res, err := Render(context.Background(), makeTemplate(t, 1), d, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if res.Pages != 1 {
		t.Fatalf("pages = %d", res.Pages)
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Action != diag.ActionDegrade ||
		!errors.Is(res.Diagnostics[0].Err, diag.ErrResourceUnresolved) {
		t.Fatalf("diagnostics = %v", res.Diagnostics)
	}
	if !bytes.Contains(res.PDF, []byte("/BaseFont /Helvetica-Bold")) {
		t.Fatalf("built-in bold face not embedded")
	}
}

func TestTextFallsBackWhenEmbeddingFails(t *testing.T) {
	doc := pdfdoc.New()
	page, err := doc.AppendBlankPage(595, 842, 0)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	resolver := fontres.New(doc, fontres.Tables{Files: map[string]string{"Brand": "/fonts/brand.ttf"}},
		fontres.WithLoader(func(string) ([]byte, error) { return goregular.TTF, nil }))
	ss := &session{s: newSettings(nil), log: observability.NopLogger{}, doc: doc, fonts: resolver, formatter: fields.DefaultFormatter()}

	face, err := resolver.Resolve("Brand", "400")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// the face now belongs to another document and cannot be embedded here
	if _, err := face.Embed(pdfdoc.New()); err != nil {
		t.Fatalf("embed elsewhere: %v", err)
	}

	b := base("t", 10, 10, 200, 30)
	b.Style.Background = &draft.Color{R: 255, G: 255, A: 1}
	text := &draft.Text{Base: b, Text: "Bonjour", FontFamily: "Brand"}
	gp := geometry.Page{Width: 595, Height: 842, Viewport: viewport}
	rect := coords.Rect{LLX: 10, LLY: 802, URX: 210, URY: 832}

	outcome, err := ss.text(page, gp, rect, text)
	if outcome != observability.OutcomeDegraded || !errors.Is(err, diag.ErrResourceUnresolved) {
		t.Fatalf("outcome %q, err %v", outcome, err)
	}
	if resolver.Embedded() != 1 {
		t.Fatalf("expected only the built-in face to be embedded, got %d", resolver.Embedded())
	}
	content := string(page.Content().Bytes())
	bg, bt := strings.Index(content, " re\n"), strings.Index(content, "BT\n")
	if bg < 0 || bt < 0 || bg > bt {
		t.Fatalf("background must precede the text: %q", content)
	}
}

func TestRenderImageFallback(t *testing.T) {
	good := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Write(good)
		case "/broken.png":
			w.Write([]byte("not an image"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	d := &draft.Draft{Pages: []draft.Page{{Index: 0, Viewport: viewport, Objects: []draft.Object{
		&draft.Image{Base: base("second", 10, 10, 50, 50), Sources: []string{srv.URL + "/broken.png", srv.URL + "/ok.png"}},
		&draft.Image{Base: base("none", 100, 10, 50, 50), Sources: []string{srv.URL + "/broken.png", srv.URL + "/missing.png"}},
	}}}}
	res, err := Render(context.Background(), makeTemplate(t, 1), d, nil, WithMetrics(rec))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if rec.outcomes["image/drawn"] != 1 || rec.outcomes["image/placeholder"] != 1 {
		t.Fatalf("outcomes %v", rec.outcomes)
	}
	if len(res.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %v", res.Diagnostics)
	}
	e := res.Diagnostics[0]
	if e.ObjectID != "none" || e.Action != diag.ActionPlaceholder || !errors.Is(e.Err, diag.ErrResourceUnresolved) {
		t.Fatalf("entry %v", e)
	}
	if !bytes.Contains(res.PDF, []byte("/Subtype /Image")) {
		t.Fatalf("resolved image not embedded")
	}
}

func ptr[T any](v T) *T { return &v }

type countingServer struct {
	*httptest.Server
	mu       sync.Mutex
	hits     map[string]int
	inFlight int
	peak     int
}

func newCountingServer(t *testing.T, body []byte) *countingServer {
	t.Helper()
	s := &countingServer{hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.inFlight++
		s.peak = max(s.peak, s.inFlight)
		s.mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
		w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func TestRenderPrefetchesImages(t *testing.T) {
	body := pngBytes(t)
	tpl := makeTemplate(t, 1)
	pageDraft := func(url string) *draft.Draft {
		return &draft.Draft{Pages: []draft.Page{{Index: 0, Viewport: viewport, Objects: []draft.Object{
			&draft.Image{Base: base("a", 10, 10, 50, 50), Sources: []string{url + "/a.png"}},
			&draft.Image{Base: base("b", 70, 10, 50, 50), Sources: []string{url + "/b.png"}},
			&draft.ClipMask{Base: base("c", 130, 10, 50, 50), Sources: []string{url + "/c.png"}, Scale: 1},
			&draft.Image{Base: base("a-again", 190, 10, 50, 50), Sources: []string{url + "/a.png"}},
		}}}}
	}
	run := func(prefetch int) (*countingServer, []byte) {
		srv := newCountingServer(t, body)
		cfg := config.Default()
		cfg.Images.Prefetch = prefetch
		res, err := Render(context.Background(), tpl, pageDraft(srv.URL), nil, WithConfig(cfg))
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if len(res.Diagnostics) != 0 {
			t.Fatalf("diagnostics = %v", res.Diagnostics)
		}
		return srv, res.PDF
	}

	parallel, withPrefetch := run(4)
	serial, without := run(0)
	for _, srv := range []*countingServer{parallel, serial} {
		srv.mu.Lock()
		hits := srv.hits
		srv.mu.Unlock()
		for _, path := range []string{"/a.png", "/b.png", "/c.png"} {
			if n := hits[path]; n != 1 {
				t.Fatalf("%s fetched %d times", path, n)
			}
		}
	}
	parallel.mu.Lock()
	serial.mu.Lock()
	defer parallel.mu.Unlock()
	defer serial.mu.Unlock()
	if parallel.peak < 2 {
		t.Fatalf("prefetch did not overlap downloads")
	}
	if serial.peak != 1 {
		t.Fatalf("downloads overlapped with prefetch disabled")
	}
	if !bytes.Equal(withPrefetch, without) {
		t.Fatalf("prefetch changed the output")
	}
}

func TestRenderBindings(t *testing.T) {
	rc := &catalog.RenderContext{
		AgentMode: true,
		Products: map[string]catalog.Product{
			"p1": {ID: "p1", PriceHT: ptr(19.9), Stock: ptr(int64(5)), EAN13: "3401234567890"},
			"p2": {ID: "p2", PriceHT: ptr(4.5), Stock: ptr(int64(0)), EAN13: "0000000000000"},
			"p3": {ID: "p3"},
		},
		Tiers: map[string][]catalog.Tier{"p1": {{TierID: "1", QtyMin: 10, PriceHT: 15.5}}},
	}
	badge := func(id, product string) *draft.Text {
		return &draft.Text{Base: base(id, 10, 300, 200, 30), Binding: &draft.Binding{
			Kind: draft.BindingStockBadge, ProductID: product, ModeAgent: draft.StockOnlyIfZero, Text: "Rupture"}}
	}
	d := &draft.Draft{Pages: []draft.Page{{Index: 0, Viewport: viewport, Objects: []draft.Object{
		&draft.Text{Base: base("price", 10, 10, 200, 60), FontSize: 40, Binding: &draft.Binding{
			Kind: draft.BindingPrice, ProductID: "p1", PriceMode: draft.PriceBase}},
		&draft.Text{Base: base("tier", 10, 80, 200, 60), FontSize: 40, Binding: &draft.Binding{
			Kind: draft.BindingPrice, ProductID: "p1", PriceMode: draft.PriceTier, TierID: "1", PlainPrice: true}},
		&draft.Text{Base: base("unpriced", 10, 150, 200, 60), Binding: &draft.Binding{
			Kind: draft.BindingPrice, ProductID: "p3"}},
		badge("stock5", "p1"),
		badge("stock0", "p2"),
		badge("stocknull", "p3"),
		&draft.Text{Base: base("ean", 10, 400, 200, 30), Binding: &draft.Binding{Kind: draft.BindingEAN, ProductID: "p2"}},
	}}}}
	rec := newRecorder()
	res, err := Render(context.Background(), makeTemplate(t, 1), d, rc, WithMetrics(rec))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if rec.outcomes["text/drawn"] != 4 || rec.outcomes["text/suppressed"] != 3 {
		t.Fatalf("outcomes %v", rec.outcomes)
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].ObjectID != "ean" || res.Diagnostics[0].Action != diag.ActionSuppress {
		t.Fatalf("diagnostics = %v", res.Diagnostics)
	}
}

func TestRenderRejectsInvalidTemplate(t *testing.T) {
	rec := newRecorder()
	_, err := Render(context.Background(), []byte("definitely not a pdf"), &draft.Draft{}, nil, WithMetrics(rec))
	if !errors.Is(err, diag.ErrUnrecoverableInput) {
		t.Fatalf("expected ErrUnrecoverableInput, got %v", err)
	}
	if rec.renders != 1 {
		t.Fatalf("failed render not recorded")
	}
}

func TestRenderMissingPage(t *testing.T) {
	d := &draft.Draft{Pages: []draft.Page{{Index: 7, Objects: []draft.Object{
		&draft.Text{Base: base("a", 0, 0, 10, 10), Text: "x"},
		&draft.Image{Base: base("b", 0, 0, 10, 10)},
	}}}}
	res, err := Render(context.Background(), makeTemplate(t, 1), d, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(res.Diagnostics) != 2 || res.Diagnostics[0].Page != 7 {
		t.Fatalf("diagnostics = %v", res.Diagnostics)
	}
}

func TestRenderBytesKeepsNormalizationFindings(t *testing.T) {
	draftJSON := []byte(`{"pages":[{"index":0,"objects":[
		{"type":"sparkle","id":"s1","x":1,"y":1,"w":5,"h":5},
		{"kind":"text","id":"t1","xRel":0.1,"yRel":0.1,"wRel":0.5,"hRel":0.05,"text":"Bonjour"}
	]}]}`)
	res, err := RenderBytes(context.Background(), makeTemplate(t, 1), draftJSON, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(res.Diagnostics) != 1 || !errors.Is(res.Diagnostics[0].Err, draft.ErrUnknownKind) {
		t.Fatalf("diagnostics = %v", res.Diagnostics)
	}
	if _, err := RenderBytes(context.Background(), makeTemplate(t, 1), []byte("{"), nil); !errors.Is(err, diag.ErrUnrecoverableInput) {
		t.Fatalf("malformed draft: %v", err)
	}
}

func TestRenderLogsRenderID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	d := &draft.Draft{Pages: []draft.Page{{Index: 0, Viewport: viewport, Objects: []draft.Object{
		&draft.Image{Base: base("img", 10, 10, 20, 20), Sources: []string{"data:image/png;base64,AAAA"}},
	}}}}
	res, err := Render(context.Background(), makeTemplate(t, 1), d, nil, WithLogger(observability.NewZapLogger(zap.New(core))))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	done := logs.FilterMessage("render finished").All()
	if len(done) != 1 || done[0].ContextMap()["render_id"] != res.RenderID {
		t.Fatalf("render finished log: %v", done)
	}
	warned := logs.FilterMessage("object not drawn as authored").All()
	if len(warned) != 1 || warned[0].ContextMap()["render_id"] != res.RenderID || warned[0].ContextMap()["object"] != "img" {
		t.Fatalf("object warning: %v", warned)
	}
}

func TestLineGeometryGetsThickness(t *testing.T) {
	gp := geometry.Page{Width: 595, Height: 842, Viewport: viewport}
	g := lineGeometry(gp, draft.Geometry{X: 10, Y: 100, W: 200}, 4)
	if g.H != 4 || g.Y != 98 {
		t.Fatalf("pixel line box %+v", g)
	}
	g = lineGeometry(gp, draft.Geometry{Rel: &draft.Rel{X: 0.1, Y: 0.5, W: 0.5}}, 0)
	if !(g.Rel.H > 0) || g.Rel.Y >= 0.5 {
		t.Fatalf("relative line box %+v", *g.Rel)
	}
	if _, ok := gp.Rect(g); !ok {
		t.Fatalf("line box should map")
	}
}

func TestRotateAboutKeepsCenter(t *testing.T) {
	r := coords.Rect{LLX: 10, LLY: 20, URX: 50, URY: 40}
	m := rotateAbout(r, 90)
	c := m.Transform(coords.Point{X: 30, Y: 30})
	if c.X != 30 || c.Y != 30 {
		t.Fatalf("center moved to %v", c)
	}
	// clockwise on the page: the right edge midpoint goes down
	p := m.Transform(coords.Point{X: 50, Y: 30})
	if p.X < 29.999 || p.X > 30.001 || p.Y > 10.001 || p.Y < 9.999 {
		t.Fatalf("right midpoint rotated to %v", p)
	}
}
