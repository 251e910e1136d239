// Package compositor renders an editor draft onto a PDF template.
//
// A render opens the template, appends the blank pages the editor added,
// paints every page's overlays back layer first and serializes the result.
// Failures of single objects are contained: they are recorded as
// diagnostics and the object is skipped, degraded or replaced by a
// placeholder. Only an unusable template aborts the render.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/wudi/flyerkit/cache"
	"github.com/wudi/flyerkit/catalog"
	"github.com/wudi/flyerkit/config"
	"github.com/wudi/flyerkit/diag"
	"github.com/wudi/flyerkit/draft"
	"github.com/wudi/flyerkit/fields"
	"github.com/wudi/flyerkit/fontres"
	"github.com/wudi/flyerkit/observability"
	"github.com/wudi/flyerkit/security"
)

// Result is the output of one render.
type Result struct {
	PDF []byte
	// Diagnostics lists every object that was skipped, degraded, suppressed
	// or replaced by a placeholder, in paint order.
	Diagnostics []diag.Entry
	RenderID    string
	Pages       int
}

type settings struct {
	logger    observability.Logger
	tracer    observability.Tracer
	metrics   observability.Metrics
	cfg       *config.Config
	shared    cache.Store
	group     *singleflight.Group
	client    *http.Client
	fontLoad  fontres.Loader
	formatter *fields.Formatter
	limits    security.Limits
	ids       *snowflake.Node
}

// Option configures a render.
type Option func(*settings)

func WithLogger(l observability.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithTracer(t observability.Tracer) Option {
	return func(s *settings) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithMetrics(m observability.Metrics) Option {
	return func(s *settings) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithConfig replaces the default render, image and cache settings.
func WithConfig(cfg *config.Config) Option {
	return func(s *settings) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithSharedCache shares successful image downloads across renders.
func WithSharedCache(store cache.Store) Option {
	return func(s *settings) { s.shared = store }
}

// WithFetchGroup de-duplicates concurrent downloads of the same image
// across renders sharing g.
func WithFetchGroup(g *singleflight.Group) Option {
	return func(s *settings) { s.group = g }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.client = c }
}

// WithFontLoader replaces os.ReadFile for font files.
func WithFontLoader(l fontres.Loader) Option {
	return func(s *settings) { s.fontLoad = l }
}

// WithFormatter overrides the price format derived from the config locale
// and currency.
func WithFormatter(f fields.Formatter) Option {
	return func(s *settings) { s.formatter = &f }
}

// WithLimits bounds template parsing and image decoding.
func WithLimits(l security.Limits) Option {
	return func(s *settings) { s.limits = l }
}

// WithIDNode sets the snowflake node render ids come from.
func WithIDNode(n *snowflake.Node) Option {
	return func(s *settings) { s.ids = n }
}

var (
	defaultNodeOnce sync.Once
	defaultNode     *snowflake.Node
)

func idNode() *snowflake.Node {
	defaultNodeOnce.Do(func() {
		// node 1 is always valid
		defaultNode, _ = snowflake.NewNode(1)
	})
	return defaultNode
}

func newSettings(opts []Option) *settings {
	s := &settings{
		logger:  observability.NopLogger{},
		tracer:  observability.NopTracer(),
		metrics: observability.NopMetrics(),
		cfg:     config.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.ids == nil {
		s.ids = idNode()
	}
	if s.limits.MaxImageBytes == 0 && s.cfg.Images.MaxBytes > 0 {
		s.limits.MaxImageBytes = s.cfg.Images.MaxBytes
	}
	s.limits = s.limits.WithDefaults()
	return s
}

func (s *settings) priceFormatter() fields.Formatter {
	if s.formatter != nil {
		return *s.formatter
	}
	f := fields.DefaultFormatter()
	if loc := strings.TrimSpace(s.cfg.Render.Locale); loc != "" {
		if tag, err := language.Parse(loc); err == nil {
			f.Locale = tag
		} else {
			s.logger.Warn("unknown locale, using default", observability.String("locale", loc))
		}
	}
	if s.cfg.Render.Currency != "" {
		f.Currency = s.cfg.Render.Currency
	}
	return f
}

// Render composites d onto template. rc may be nil when the draft has no
// bindings and no tenant fonts. The returned error is nil unless the
// template is unusable (diag.ErrUnrecoverableInput), the context ends, or
// serialization fails.
func Render(ctx context.Context, template []byte, d *draft.Draft, rc *catalog.RenderContext, opts ...Option) (*Result, error) {
	s := newSettings(opts)
	id := s.ids.Generate().String()
	log := s.logger.With(observability.String("render_id", id))

	ctx, span := s.tracer.StartSpan(ctx, "flyerkit.render")
	span.SetTag("render_id", id)
	defer span.Finish()

	start := time.Now()
	res, err := run(ctx, template, d, rc, s, log)
	elapsed := time.Since(start).Seconds()
	s.metrics.RenderFinished(elapsed, err)
	if err != nil {
		span.SetError(err)
		log.Error("render failed", observability.Error("error", err), observability.Float64("seconds", elapsed))
		return nil, err
	}
	res.RenderID = id
	span.SetTag("pages", res.Pages)
	span.SetTag("diagnostics", len(res.Diagnostics))
	log.Info("render finished",
		observability.Int("pages", res.Pages),
		observability.Int("diagnostics", len(res.Diagnostics)),
		observability.Int("bytes", len(res.PDF)),
		observability.Float64("seconds", elapsed),
	)
	return res, nil
}

// RenderBytes normalizes editor JSON and renders it. Normalization
// findings lead the diagnostics.
func RenderBytes(ctx context.Context, template, draftJSON []byte, rc *catalog.RenderContext, opts ...Option) (*Result, error) {
	d, entries, err := draft.Normalize(draftJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", diag.ErrUnrecoverableInput, err)
	}
	res, err := Render(ctx, template, d, rc, opts...)
	if err != nil {
		return nil, err
	}
	res.Diagnostics = append(entries, res.Diagnostics...)
	return res, nil
}

func run(ctx context.Context, template []byte, d *draft.Draft, rc *catalog.RenderContext, s *settings, log observability.Logger) (*Result, error) {
	if d == nil {
		d = &draft.Draft{}
	}
	sess, err := open(ctx, template, d, rc, s, log)
	if err != nil {
		return nil, err
	}
	sess.appendPages(d.AppendedPages)
	for _, p := range d.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sess.renderPage(ctx, p)
	}
	out, err := sess.doc.Save(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return &Result{PDF: out, Diagnostics: sess.diags.Entries(), Pages: sess.doc.NumPages()}, nil
}
