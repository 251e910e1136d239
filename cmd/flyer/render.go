package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/wudi/flyerkit/cache"
	"github.com/wudi/flyerkit/catalog"
	"github.com/wudi/flyerkit/compositor"
	"github.com/wudi/flyerkit/config"
	"github.com/wudi/flyerkit/diag"
	"github.com/wudi/flyerkit/draft"
	"github.com/wudi/flyerkit/observability"
)

type renderFlags struct {
	config     string
	template   string
	draft      string
	out        string
	context    string
	tenant     string
	agent      bool
	report     string
	metricsOut string
	verbose    bool
}

func parseRenderFlags(args []string, env *environment) (renderFlags, error) {
	var f renderFlags
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	fs.StringVarP(&f.config, "config", "c", "", "YAML config file")
	fs.StringVarP(&f.template, "template", "t", "", "template PDF")
	fs.StringVarP(&f.draft, "draft", "d", "", "editor draft JSON")
	fs.StringVarP(&f.out, "out", "o", "", "output PDF, - for stdout")
	fs.StringVar(&f.context, "context", "", "render context JSON (overrides catalog.source)")
	fs.StringVar(&f.tenant, "tenant", "", "tenant id for database catalogs")
	fs.BoolVar(&f.agent, "agent", false, "render in agent mode")
	fs.StringVar(&f.report, "report", "", "write diagnostics as JSON to this file, - for stderr")
	fs.StringVar(&f.metricsOut, "metrics-out", "", "write Prometheus metrics in text format to this file")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return f, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if f.template == "" || f.draft == "" || f.out == "" {
		return f, fmt.Errorf("%w: --template, --draft and --out are required", ErrUsage)
	}
	return f, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runRender(ctx context.Context, args []string, env *environment) error {
	f, err := parseRenderFlags(args, env)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(f.config)
	if err != nil {
		return err
	}
	zl, err := newLogger(cfg.Log, f.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	log := observability.NewZapLogger(zl)

	template, err := os.ReadFile(f.template)
	if err != nil {
		return fmt.Errorf("%w: template: %w", ErrReadInput, err)
	}
	draftJSON, err := os.ReadFile(f.draft)
	if err != nil {
		return fmt.Errorf("%w: draft: %w", ErrReadInput, err)
	}
	d, findings, err := draft.Normalize(draftJSON)
	if err != nil {
		return fmt.Errorf("%w: %w", diag.ErrUnrecoverableInput, err)
	}

	rc, closeCatalog, err := loadCatalog(ctx, cfg.Catalog, f, productIDs(d))
	if err != nil {
		return err
	}
	defer closeCatalog()

	store, closeStore := openCache(ctx, cfg.Cache, log)
	defer closeStore()

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewPrometheusMetrics(reg)
	if err != nil {
		return err
	}
	opts := []compositor.Option{
		compositor.WithConfig(cfg),
		compositor.WithLogger(log),
		compositor.WithTracer(observability.NewOTelTracer(otel.Tracer("github.com/wudi/flyerkit"))),
		compositor.WithMetrics(metrics),
	}
	if store != nil {
		opts = append(opts, compositor.WithSharedCache(store))
	}

	res, err := compositor.Render(ctx, template, d, rc, opts...)
	if err != nil {
		return err
	}
	res.Diagnostics = append(findings, res.Diagnostics...)

	if f.out == "-" {
		if _, err := env.stdout.Write(res.PDF); err != nil {
			return fmt.Errorf("%w: %w", ErrWriteOut, err)
		}
	} else {
		if err := os.WriteFile(f.out, res.PDF, 0o644); err != nil {
			return fmt.Errorf("%w: %w", ErrWriteOut, err)
		}
		fmt.Fprintf(env.stdout, "%s: %d pages, %d diagnostics (render %s)\n", f.out, res.Pages, len(res.Diagnostics), res.RenderID)
	}
	if f.report != "" {
		if err := writeReport(f.report, res, env); err != nil {
			return err
		}
	}
	if f.metricsOut != "" {
		if err := prometheus.WriteToTextfile(f.metricsOut, reg); err != nil {
			return fmt.Errorf("%w: metrics: %w", ErrWriteOut, err)
		}
	}
	return nil
}

// productIDs lists the products the draft's bindings reference.
func productIDs(d *draft.Draft) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range d.Pages {
		for _, o := range p.Objects {
			t, ok := o.(*draft.Text)
			if !ok || t.Binding == nil || t.Binding.ProductID == "" || seen[t.Binding.ProductID] {
				continue
			}
			seen[t.Binding.ProductID] = true
			ids = append(ids, t.Binding.ProductID)
		}
	}
	sort.Strings(ids)
	return ids
}

func loadCatalog(ctx context.Context, c config.CatalogConfig, f renderFlags, ids []string) (*catalog.RenderContext, func(), error) {
	q := catalog.Query{TenantID: c.TenantID, ProductIDs: ids, AgentMode: f.agent}
	if f.tenant != "" {
		q.TenantID = f.tenant
	}
	nop := func() {}
	if f.context != "" {
		rc, err := catalog.File{Path: f.context}.Load(ctx, q)
		if err != nil {
			return nil, nop, fmt.Errorf("%w: catalog: %w", ErrReadInput, err)
		}
		return rc, nop, nil
	}
	switch c.Source {
	case config.SourcePgSQL:
		pg, err := catalog.OpenPostgres(ctx, c.DSN)
		if err != nil {
			return nil, nop, err
		}
		rc, err := pg.Load(ctx, q)
		if err != nil {
			pg.Close()
			return nil, nop, err
		}
		return rc, pg.Close, nil
	case config.SourceMySQL:
		my, err := catalog.OpenMySQL(ctx, c.DSN)
		if err != nil {
			return nil, nop, err
		}
		rc, err := my.Load(ctx, q)
		if err != nil {
			_ = my.Close()
			return nil, nop, err
		}
		return rc, func() { _ = my.Close() }, nil
	}
	// no file given: bindings render their placeholders
	return &catalog.RenderContext{AgentMode: f.agent}, nop, nil
}

// openCache returns the shared image store the config asks for, or nil.
// An unreachable Redis degrades to no shared cache.
func openCache(ctx context.Context, c config.CacheConfig, log observability.Logger) (cache.Store, func()) {
	nop := func() {}
	switch c.Kind {
	case config.CacheMemory:
		return cache.NewMemory(c.MaxEntries, c.TTL), nop
	case config.CacheRedis:
		rc := cache.NewRedisCache(cache.RedisOptions{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
			TTL:      c.TTL,
		})
		if err := rc.Ping(ctx); err != nil {
			log.Warn("redis cache unreachable, continuing without it", observability.String("addr", c.Redis.Addr), observability.Error("error", err))
			_ = rc.Close()
			return nil, nop
		}
		return rc, func() { _ = rc.Close() }
	}
	return nil, nop
}

type reportEntry struct {
	Page   int    `json:"page"`
	Object string `json:"object"`
	Kind   string `json:"kind"`
	Action string `json:"action"`
	Error  string `json:"error"`
}

type report struct {
	RenderID    string        `json:"render_id"`
	Pages       int           `json:"pages"`
	Diagnostics []reportEntry `json:"diagnostics"`
}

func newReport(res *compositor.Result) report {
	r := report{RenderID: res.RenderID, Pages: res.Pages, Diagnostics: make([]reportEntry, 0, len(res.Diagnostics))}
	for _, e := range res.Diagnostics {
		re := reportEntry{Page: e.Page, Object: e.ObjectID, Kind: e.Kind, Action: string(e.Action)}
		if e.Err != nil {
			re.Error = e.Err.Error()
		}
		r.Diagnostics = append(r.Diagnostics, re)
	}
	return r
}

func writeReport(path string, res *compositor.Result, env *environment) error {
	data, err := json.MarshalIndent(newReport(res), "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = env.stderr.Write(data)
	} else {
		err = os.WriteFile(path, data, 0o644)
	}
	if err != nil {
		return fmt.Errorf("%w: report: %w", ErrWriteOut, err)
	}
	return nil
}

func newLogger(c config.LogConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		lvl, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("%w: log.level %q", config.ErrInvalid, c.Level)
		}
		zc.Level = lvl
	}
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
