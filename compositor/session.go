package compositor

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/wudi/flyerkit/catalog"
	"github.com/wudi/flyerkit/clipmask"
	"github.com/wudi/flyerkit/coords"
	"github.com/wudi/flyerkit/diag"
	"github.com/wudi/flyerkit/draft"
	"github.com/wudi/flyerkit/fields"
	"github.com/wudi/flyerkit/fontres"
	"github.com/wudi/flyerkit/geometry"
	"github.com/wudi/flyerkit/imageres"
	"github.com/wudi/flyerkit/observability"
	"github.com/wudi/flyerkit/pdfdoc"
	"github.com/wudi/flyerkit/pricetype"
	"github.com/wudi/flyerkit/shapes"
)

// session holds the render-scoped state: the output document and every
// cache that must not outlive one render.
type session struct {
	s   *settings
	log observability.Logger
	rc  *catalog.RenderContext

	doc       *pdfdoc.Document
	fonts     *fontres.Resolver
	images    *imageres.Resolver
	shapes    *shapes.Renderer
	clips     *clipmask.Renderer
	formatter fields.Formatter
	price     pricetype.Options
	diags     diag.Collector
}

func open(ctx context.Context, template []byte, d *draft.Draft, rc *catalog.RenderContext, s *settings, log observability.Logger) (*session, error) {
	doc, err := pdfdoc.Open(ctx, template, pdfdoc.Options{Limits: s.limits})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, diag.Wrap(diag.ErrUnrecoverableInput, fmt.Errorf("open template: %w", err))
	}
	if n := doc.Repairs(); n > 0 {
		log.Warn("template repaired", observability.Int("repairs", n))
	}
	if doc.NumPages() == 0 && len(d.AppendedPages) == 0 {
		return nil, diag.Wrap(diag.ErrUnrecoverableInput, errors.New("template has no pages"))
	}

	tables := fontres.Tables{Files: d.Fonts}
	if rc != nil {
		tables.Tenant, tables.Global = rc.TenantFonts, rc.GlobalFonts
	}
	fontOpts := []fontres.Option{fontres.WithLogger(log)}
	if s.fontLoad != nil {
		fontOpts = append(fontOpts, fontres.WithLoader(s.fontLoad))
	}

	r := s.cfg.Render
	img := s.cfg.Images
	ss := &session{s: s, log: log, rc: rc, doc: doc}
	ss.fonts = fontres.New(doc, tables, fontOpts...)
	ss.images = imageres.New(imageres.Options{
		Client:      s.client,
		Timeout:     img.Timeout,
		Retries:     img.Retries,
		BaseURL:     img.BaseURL,
		StorageRoot: img.StorageRoot,
		Limits:      s.limits,
		Shared:      s.shared,
		Group:       s.group,
		Logger:      log,
		Metrics:     s.metrics,
	})
	ss.shapes = shapes.New(doc, shapes.Options{Supersample: r.Supersample, CanvasCap: r.CanvasCap})
	ss.clips = clipmask.New(doc, clipmask.Options{
		Supersample: r.Supersample,
		CanvasCap:   r.CanvasCap,
		ZoomMin:     r.ZoomMin,
		ZoomMax:     r.ZoomMax,
	})
	ss.formatter = s.priceFormatter()
	ss.price = pricetype.Options{MinSize: r.MinFontSize}
	return ss, nil
}

// appendPages adds the editor's blank pages after the template pages,
// before any overlay is drawn.
func (ss *session) appendPages(specs []draft.PageSpec) {
	for i, p := range specs {
		if _, err := ss.doc.AppendBlankPage(p.Width, p.Height, p.Rotation); err != nil {
			ss.diags.Add(diag.Entry{Page: ss.doc.NumPages(), ObjectID: fmt.Sprintf("appended#%d", i), Kind: "page",
				Action: diag.ActionSkip, Err: diag.Wrap(diag.ErrGeometryInvalid, err)})
			continue
		}
	}
	if len(specs) > 0 {
		ss.log.Debug("pages appended", observability.Int("count", len(specs)), observability.Int("pages", ss.doc.NumPages()))
	}
}

func (ss *session) renderPage(ctx context.Context, dp draft.Page) {
	page, ok := ss.doc.Page(dp.Index)
	if !ok {
		for _, o := range dp.Objects {
			ss.record(dp.Index, o, observability.OutcomeSkipped,
				diag.Wrap(diag.ErrGeometryInvalid, fmt.Errorf("page %d does not exist", dp.Index+1)))
		}
		return
	}
	ctx, span := ss.s.tracer.StartSpan(ctx, "flyerkit.page")
	span.SetTag("page", dp.Index)
	span.SetTag("objects", len(dp.Objects))
	defer span.Finish()

	ss.prefetch(ctx, dp.Objects)

	w, h := page.Size()
	gp := geometry.Page{
		Width:     w,
		Height:    h,
		Viewport:  dp.Viewport,
		MinFont:   ss.s.cfg.Render.MinFontSize,
		MinStroke: ss.s.cfg.Render.MinStrokeWidth,
	}
	for _, o := range dp.Ordered() {
		outcome, err := ss.draw(ctx, page, gp, o)
		ss.record(dp.Index, o, outcome, err)
	}
}

// prefetch warms the image caches with the first candidate of every
// image and clip frame on the page. Drawing stays sequential.
func (ss *session) prefetch(ctx context.Context, objects []draft.Object) {
	var srcs []string
	seen := make(map[string]bool)
	for _, o := range objects {
		var candidates []string
		switch v := o.(type) {
		case *draft.Image:
			candidates = v.Sources
		case *draft.ClipMask:
			candidates = v.Sources
		}
		if len(candidates) > 0 && !seen[candidates[0]] {
			seen[candidates[0]] = true
			srcs = append(srcs, candidates[0])
		}
	}
	limit := ss.s.cfg.Images.Prefetch
	if len(srcs) < 2 || limit < 2 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, src := range srcs {
		g.Go(func() error {
			ss.images.Warm(gctx, src)
			return nil
		})
	}
	_ = g.Wait()
}

// draw maps the geometry of o and dispatches it. The returned outcome is
// the metrics label; a non-nil error becomes a diagnostic.
func (ss *session) draw(ctx context.Context, page *pdfdoc.Page, gp geometry.Page, o draft.Object) (string, error) {
	base := o.Common()
	g := base.Geometry
	if sh, ok := o.(*draft.Shape); ok && sh.Shape == draft.ShapeLine {
		g = lineGeometry(gp, g, base.Style.StrokeWidth)
	}
	rect, ok := gp.Rect(g)
	if !ok {
		return observability.OutcomeSkipped, diag.Wrap(diag.ErrGeometryInvalid,
			fmt.Errorf("box %gx%g at %g,%g does not map onto the page", g.W, g.H, g.X, g.Y))
	}
	if g.Angle != 0 && !math.IsNaN(g.Angle) && !math.IsInf(g.Angle, 0) {
		b := page.Content()
		b.Save().Transform(rotateAbout(rect, g.Angle))
		defer b.Restore()
	}

	switch v := o.(type) {
	case *draft.Text:
		return ss.text(page, gp, rect, v)
	case *draft.Image:
		return ss.image(ctx, page, rect, v)
	case *draft.Shape:
		return ss.shape(page, gp, rect, v)
	case *draft.ClipMask:
		return ss.clipMask(ctx, page, gp, rect, v)
	}
	return observability.OutcomeSkipped, fmt.Errorf("%w: %T", draft.ErrUnknownKind, o)
}

// record turns a dispatch result into metrics, logs and diagnostics.
func (ss *session) record(page int, o draft.Object, outcome string, err error) {
	kind := string(o.Kind())
	ss.s.metrics.ObjectRendered(kind, outcome)
	if err == nil {
		return
	}
	id := o.Common().ID
	action := diag.ActionFor(err)
	if outcome == observability.OutcomePlaceholder {
		action = diag.ActionPlaceholder
	}
	ss.diags.Add(diag.Entry{Page: page, ObjectID: id, Kind: kind, Action: action, Err: err})

	attrs := []observability.Field{
		observability.Int("page", page),
		observability.String("object", id),
		observability.String("kind", kind),
		observability.String("action", string(action)),
		observability.Error("error", err),
	}
	if errors.Is(err, diag.ErrGeometryInvalid) {
		ss.log.Debug("object skipped", attrs...)
		return
	}
	ss.log.Warn("object not drawn as authored", attrs...)
}

// rotateAbout rotates clockwise on the displayed page around the center
// of r.
func rotateAbout(r coords.Rect, deg float64) coords.Matrix {
	cx, cy := (r.LLX+r.URX)/2, (r.LLY+r.URY)/2
	return coords.Translate(-cx, -cy).
		Multiply(coords.RotateDegrees(-deg)).
		Multiply(coords.Translate(cx, cy))
}

// lineGeometry gives a flat line box the thickness of its stroke, centered
// on the authored position, so it survives the degenerate-box check.
func lineGeometry(gp geometry.Page, g draft.Geometry, strokePx float64) draft.Geometry {
	t := math.Max(strokePx, 1)
	if rel := g.Rel; rel != nil {
		r := *rel
		sx, sy := gp.Scale()
		if r.H <= 0 && gp.Height > 0 {
			r.H = t * sy / gp.Height
			r.Y -= r.H / 2
		}
		if r.W <= 0 && gp.Width > 0 {
			r.W = t * sx / gp.Width
			r.X -= r.W / 2
		}
		g.Rel = &r
		return g
	}
	if g.H <= 0 {
		g.Y -= t / 2
		g.H = t
	}
	if g.W <= 0 {
		g.X -= t / 2
		g.W = t
	}
	return g
}
