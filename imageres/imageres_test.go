package imageres

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wudi/flyerkit/cache"
	"github.com/wudi/flyerkit/diag"
	"github.com/wudi/flyerkit/pdfdoc"
	"github.com/wudi/flyerkit/security"
)

func pngBytes(t *testing.T, w, h int, alpha uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 30, B: 30, A: alpha})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

type imageServer struct {
	*httptest.Server
	hits map[string]*atomic.Int32
}

func newImageServer(t *testing.T) *imageServer {
	t.Helper()
	good := pngBytes(t, 4, 4, 255)
	s := &imageServer{hits: map[string]*atomic.Int32{
		"/ok.png": {}, "/bad": {}, "/err": {}, "/missing": {},
	}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := s.hits[r.URL.Path]; ok {
			c.Add(1)
		}
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "text/plain")
			w.Write(good)
		case "/bad":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("<html>not an image</html>"))
		case "/err":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *imageServer) count(path string) int32 { return s.hits[path].Load() }

func TestSniff(t *testing.T) {
	tests := []struct {
		data []byte
		want Format
	}{
		{[]byte{0xFF, 0xD8, 0xFF, 0xE0}, FormatJPEG},
		{[]byte("\x89PNG\r\n\x1a\n...."), FormatPNG},
		{[]byte("GIF89a...."), FormatGIF},
		{[]byte("RIFF\x00\x00\x00\x00WEBPVP8 "), FormatWebP},
		{[]byte("BM\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"), FormatBMP},
		{[]byte("II*\x00...."), FormatTIFF},
		{[]byte("MM\x00*...."), FormatTIFF},
	}
	for _, tc := range tests {
		if got, err := Sniff(tc.data); err != nil || got != tc.want {
			t.Fatalf("Sniff(% X) = %v, %v; want %v", tc.data[:4], got, err, tc.want)
		}
	}
	if _, err := Sniff([]byte("<svg/>")); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("svg should not sniff: %v", err)
	}
}

func TestResolveUsesFirstValidCandidate(t *testing.T) {
	srv := newImageServer(t)
	r := New(Options{})
	img, err := r.Resolve(context.Background(), []string{srv.URL + "/bad", srv.URL + "/missing", srv.URL + "/ok.png"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if img.Source != srv.URL+"/ok.png" || img.Format != FormatPNG || img.Image.Bounds().Dx() != 4 {
		t.Fatalf("unexpected raster %+v", img)
	}
}

func TestResolveExhausted(t *testing.T) {
	srv := newImageServer(t)
	r := New(Options{})
	_, err := r.Resolve(context.Background(), []string{srv.URL + "/bad", "ftp://example.com/a.png", "data:,hello"})
	if !errors.Is(err, diag.ErrResourceUnresolved) {
		t.Fatalf("expected ErrResourceUnresolved, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), nil); !errors.Is(err, diag.ErrResourceUnresolved) {
		t.Fatalf("empty list: %v", err)
	}
}

func TestNegativeCacheIsPerRender(t *testing.T) {
	srv := newImageServer(t)
	ctx := context.Background()
	candidates := []string{srv.URL + "/bad", srv.URL + "/ok.png"}
	r := New(Options{})
	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(ctx, candidates); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	if srv.count("/bad") != 1 || srv.count("/ok.png") != 1 {
		t.Fatalf("hits bad=%d ok=%d, want 1 each", srv.count("/bad"), srv.count("/ok.png"))
	}
	if !r.Failed(srv.URL + "/bad") {
		t.Fatalf("broken source not remembered")
	}
	if _, err := New(Options{}).Resolve(ctx, candidates); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if srv.count("/bad") != 2 {
		t.Fatalf("a new render must retry broken sources")
	}
}

func TestRetriesServerErrors(t *testing.T) {
	srv := newImageServer(t)
	r := New(Options{Retries: 1})
	if _, err := r.Resolve(context.Background(), []string{srv.URL + "/err"}); err == nil {
		t.Fatalf("expected failure")
	}
	if srv.count("/err") != 2 {
		t.Fatalf("expected 2 attempts, got %d", srv.count("/err"))
	}
	r = New(Options{Retries: 1})
	r.Resolve(context.Background(), []string{srv.URL + "/missing"})
	if srv.count("/missing") != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", srv.count("/missing"))
	}
}

func TestDataURI(t *testing.T) {
	data := pngBytes(t, 2, 3, 255)
	src := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	img, err := New(Options{}).Resolve(context.Background(), []string{src})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if img.Image.Bounds().Dy() != 3 {
		t.Fatalf("bounds %v", img.Image.Bounds())
	}
	if _, err := parseDataURI("data:image/png;base64", 1<<20); err == nil {
		t.Fatalf("payload-less data URI accepted")
	}
	if _, err := parseDataURI("data:;base64,"+base64.StdEncoding.EncodeToString(data), 10); err == nil {
		t.Fatalf("oversized data URI accepted")
	}
}

func TestSameOriginStorage(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "media"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "media", "a.png"), pngBytes(t, 2, 2, 255), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := New(Options{BaseURL: "https://cdn.example.com", StorageRoot: root})
	ctx := context.Background()
	for _, src := range []string{"/media/a.png", "https://CDN.example.com:443/media/a.png", "//cdn.example.com/media/a.png"} {
		if _, err := r.Resolve(ctx, []string{src}); err != nil {
			t.Fatalf("%s: %v", src, err)
		}
	}
	if _, err := r.Resolve(ctx, []string{"/../../etc/passwd"}); err == nil {
		t.Fatalf("path outside storage root resolved")
	}
	kind, _, _ := r.classify("https://other.example.com/a.png")
	if kind != sourceRemote {
		t.Fatalf("foreign host classified as %v", kind)
	}
}

func TestSharedStoreAcrossRenders(t *testing.T) {
	srv := newImageServer(t)
	shared := cache.NewMemory(8, 0)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		r := New(Options{Shared: shared})
		if _, err := r.Resolve(ctx, []string{srv.URL + "/bad", srv.URL + "/ok.png"}); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	if srv.count("/ok.png") != 1 {
		t.Fatalf("shared store missed: %d downloads", srv.count("/ok.png"))
	}
	if srv.count("/bad") != 2 {
		t.Fatalf("failures must not be shared: %d", srv.count("/bad"))
	}
}

func TestCancelledRenderLeavesSharedFetchIntact(t *testing.T) {
	good := pngBytes(t, 4, 4, 255)
	started := make(chan struct{})
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(started)
			<-release
		}
		w.Write(good)
	}))
	defer srv.Close()
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	defer unblock()

	group := &singleflight.Group{}
	first := New(Options{Group: group, Timeout: 5 * time.Second})
	second := New(Options{Group: group, Timeout: 5 * time.Second})
	src := srv.URL + "/slow.png"

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := first.Resolve(ctx, []string{src})
		firstErr <- err
	}()
	<-started
	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled render: %v", err)
	}

	secondErr := make(chan error, 1)
	go func() {
		_, err := second.Resolve(context.Background(), []string{src})
		secondErr <- err
	}()
	time.Sleep(50 * time.Millisecond)
	unblock()
	if err := <-secondErr; err != nil {
		t.Fatalf("live render failed: %v", err)
	}
	if second.Failed(src) || first.Failed(src) {
		t.Fatalf("cancellation must not be negatively cached")
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected the live render to join the running fetch, got %d requests", n)
	}
}

func TestPixelLimit(t *testing.T) {
	data := pngBytes(t, 10, 10, 255)
	r := New(Options{Limits: security.Limits{MaxImagePixels: 50}})
	src := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	if _, err := r.Resolve(context.Background(), []string{src}); err == nil {
		t.Fatalf("oversized raster accepted")
	}
}

func TestXObject(t *testing.T) {
	doc := pdfdoc.New()
	page, err := doc.AppendBlankPage(100, 100, 0)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	r := New(Options{})
	ctx := context.Background()
	jpg, err := r.Resolve(ctx, []string{"data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegBytes(t))})
	if err != nil {
		t.Fatalf("jpeg: %v", err)
	}
	translucent, err := r.Resolve(ctx, []string{"data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 3, 3, 128))})
	if err != nil {
		t.Fatalf("png: %v", err)
	}
	a, err := r.XObject(doc, jpg)
	if err != nil {
		t.Fatalf("embed jpeg: %v", err)
	}
	if b, _ := r.XObject(doc, jpg); a != b {
		t.Fatalf("same source embedded twice")
	}
	ref, err := r.XObject(doc, translucent)
	if err != nil {
		t.Fatalf("embed png: %v", err)
	}
	page.UseXObject(a)
	page.UseXObject(ref)
	out, err := doc.Save(ctx)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	for _, want := range []string{"/DCTDecode", "/SMask", "/DeviceGray"} {
		if !bytes.Contains(out, []byte(want)) {
			t.Fatalf("output missing %s", want)
		}
	}
}

func TestCheckBounds(t *testing.T) {
	tests := []struct {
		w, h int
		max  int64
		ok   bool
	}{
		{1024, 512, 40_000_000, true},
		{0, 10, 0, false},
		{MaxDimension + 1, 4, 0, false},
		{8000, 6000, 40_000_000, false},
		{8000, 6000, 0, true},
	}
	for _, tt := range tests {
		err := checkBounds(tt.w, tt.h, tt.max)
		if (err == nil) != tt.ok {
			t.Fatalf("checkBounds(%d, %d, %d) = %v", tt.w, tt.h, tt.max, err)
		}
	}
}
