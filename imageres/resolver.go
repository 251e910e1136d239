// Package imageres resolves ordered image candidates to decoded rasters and
// embeds them as image XObjects.
//
// A Resolver is render-scoped: it remembers every source it loaded or failed
// to load during one render. Successful remote fetches may also be shared
// across renders through a cache.Store.
package imageres

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wudi/flyerkit/cache"
	"github.com/wudi/flyerkit/diag"
	"github.com/wudi/flyerkit/ir/raw"
	"github.com/wudi/flyerkit/observability"
	"github.com/wudi/flyerkit/security"
)

// Raster is a resolved candidate.
type Raster struct {
	Source string
	Format Format
	// Data is the encoded payload as fetched.
	Data  []byte
	Image image.Image
}

// Options configure a Resolver.
type Options struct {
	Client  *http.Client
	Timeout time.Duration
	Retries int
	// BaseURL is the same-origin host. Relative candidates resolve against it.
	BaseURL string
	// StorageRoot, when set, serves same-origin paths from disk.
	StorageRoot string
	Limits      security.Limits
	// Shared caches successful fetches across renders. Nil disables it.
	Shared cache.Store
	// Group de-duplicates concurrent fetches; share one across renders.
	Group   *singleflight.Group
	Logger  observability.Logger
	Metrics observability.Metrics
}

type Resolver struct {
	opts   Options
	client *http.Client
	base   *url.URL

	mu       sync.Mutex
	loaded   map[string]*Raster
	negative map[string]error
	refs     map[string]raw.ObjectRef
}

// New builds a Resolver for one render.
func New(opts Options) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 4 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	opts.Limits = opts.Limits.WithDefaults()
	if opts.Group == nil {
		opts.Group = &singleflight.Group{}
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NopMetrics()
	}
	r := &Resolver{
		opts:     opts,
		client:   opts.Client,
		loaded:   make(map[string]*Raster),
		negative: make(map[string]error),
		refs:     make(map[string]raw.ObjectRef),
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.BaseURL != "" {
		if u, err := url.Parse(opts.BaseURL); err == nil && u.Host != "" {
			r.base = u
		}
	}
	return r
}

// Resolve returns the first candidate that loads. When every candidate
// fails the error wraps diag.ErrResourceUnresolved.
func (r *Resolver) Resolve(ctx context.Context, candidates []string) (*Raster, error) {
	if len(candidates) == 0 {
		return nil, diag.Wrap(diag.ErrResourceUnresolved, errors.New("no image candidates"))
	}
	var errs []error
	for _, src := range candidates {
		if src == "" {
			continue
		}
		img, err := r.load(ctx, src)
		if err == nil {
			return img, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", abbreviate(src), err))
	}
	return nil, diag.Wrap(diag.ErrResourceUnresolved, errors.Join(errs...))
}

// Warm loads src into the render caches, ignoring failures. It is safe to
// call from several goroutines.
func (r *Resolver) Warm(ctx context.Context, src string) {
	_, _ = r.load(ctx, src)
}

// Failed reports whether src is in the negative cache.
func (r *Resolver) Failed(src string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.negative[src]
	return ok
}

func (r *Resolver) load(ctx context.Context, src string) (*Raster, error) {
	r.mu.Lock()
	if img, ok := r.loaded[src]; ok {
		r.mu.Unlock()
		return img, nil
	}
	if err, ok := r.negative[src]; ok {
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()

	kind, u, err := r.classify(src)
	var (
		data      []byte
		shareable string
	)
	if err == nil {
		data, shareable, err = r.fetch(ctx, kind, src, u)
	}
	var img *Raster
	if err == nil {
		var (
			format  Format
			decoded image.Image
		)
		format, decoded, err = decode(data, r.opts.Limits.MaxImagePixels)
		if err == nil {
			img = &Raster{Source: src, Format: format, Data: data, Image: decoded}
			r.share(ctx, shareable, data)
		}
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	r.opts.Metrics.ImageFetched(kind.String(), result)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if ctx.Err() == nil && !cancelled(err) {
			r.negative[src] = err
		}
		r.opts.Logger.Debug("image candidate failed", observability.String("source", abbreviate(src)), observability.Error("error", err))
		return nil, err
	}
	r.loaded[src] = img
	return img, nil
}

// fetch returns the payload of src. shareable is the shared-store key for
// payloads downloaded over the network, empty otherwise.
func (r *Resolver) fetch(ctx context.Context, kind sourceKind, src string, u *url.URL) (data []byte, shareable string, err error) {
	maxBytes := r.opts.Limits.MaxImageBytes
	switch kind {
	case sourceInline:
		data, err = parseDataURI(src, maxBytes)
		return data, "", err
	case sourceSameOrigin:
		if r.opts.StorageRoot != "" {
			data, err = readStorage(r.opts.StorageRoot, u, maxBytes)
			return data, "", err
		}
		if u.Scheme == "" {
			return nil, "", fmt.Errorf("%w: relative path without a base URL", errUnsupportedSource)
		}
	}
	key := u.String()
	if s := r.opts.Shared; s != nil {
		cached, ok, err := s.Get(ctx, key)
		if err != nil {
			r.opts.Logger.Warn("shared image cache unavailable", observability.Error("error", err))
		} else if ok {
			return cached, "", nil
		}
	}
	// The flight outlives any one caller; each attempt carries its own timeout.
	flight := context.WithoutCancel(ctx)
	ch := r.opts.Group.DoChan(key, func() (interface{}, error) {
		return r.download(flight, key)
	})
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, "", res.Err
		}
		return res.Val.([]byte), key, nil
	}
}

// cancelled reports errors caused by a caller giving up rather than by the
// source itself.
func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// share stores a decoded download in the shared store.
func (r *Resolver) share(ctx context.Context, key string, data []byte) {
	if key == "" || r.opts.Shared == nil {
		return
	}
	if err := r.opts.Shared.Set(ctx, key, data); err != nil {
		r.opts.Logger.Warn("shared image cache write failed", observability.Error("error", err))
	}
}

func abbreviate(src string) string {
	if len(src) > 64 {
		return src[:61] + "..."
	}
	return src
}
