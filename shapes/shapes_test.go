package shapes

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wudi/flyerkit/coords"
	"github.com/wudi/flyerkit/diag"
	"github.com/wudi/flyerkit/draft"
	"github.com/wudi/flyerkit/pdfdoc"
)

func newPage(t *testing.T) (*pdfdoc.Document, *pdfdoc.Page) {
	t.Helper()
	doc := pdfdoc.New()
	page, err := doc.AppendBlankPage(200, 100, 0)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return doc, page
}

var red = &draft.Color{R: 255, A: 1}

func TestDrawSolidRect(t *testing.T) {
	doc, page := newPage(t)
	r := New(doc, Options{})
	err := r.Draw(page, Spec{Kind: draft.ShapeRect, Rect: coords.Rect{LLX: 10, LLY: 20, URX: 60, URY: 40}, Fill: red, Opacity: 1})
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	got := string(page.Content().Bytes())
	for _, want := range []string{"1 0 0 rg\n", "10 20 50 20 re\n", "f\n"} {
		if !strings.Contains(got, want) {
			t.Fatalf("content %q missing %q", got, want)
		}
	}
	if strings.Contains(got, " gs\n") {
		t.Fatalf("opaque fill should not select a graphics state")
	}
}

func TestDrawRoundRectWithStroke(t *testing.T) {
	doc, page := newPage(t)
	r := New(doc, Options{})
	blue := &draft.Color{B: 255, A: 0.5}
	err := r.Draw(page, Spec{
		Kind: draft.ShapeRoundRect, Rect: coords.Rect{LLX: 0, LLY: 0, URX: 100, URY: 40},
		Radius: 50, Fill: red, Stroke: blue, StrokeWidth: 2, Opacity: 1,
	})
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	got := string(page.Content().Bytes())
	if n := strings.Count(got, " c\n"); n != 4 {
		t.Fatalf("expected 4 corner curves, got %d in %q", n, got)
	}
	// radius clamps to half the height
	if !strings.Contains(got, "20 0 m\n") {
		t.Fatalf("radius not clamped: %q", got)
	}
	for _, want := range []string{"/FKGS1 gs\n", "2 w\n", "B\n"} {
		if !strings.Contains(got, want) {
			t.Fatalf("content %q missing %q", got, want)
		}
	}
}

func TestDrawLine(t *testing.T) {
	doc, page := newPage(t)
	r := New(doc, Options{})
	if err := r.Draw(page, Spec{Kind: draft.ShapeLine, Rect: coords.Rect{LLX: 10, LLY: 50, URX: 110, URY: 52}, Opacity: 1}); err != nil {
		t.Fatalf("draw: %v", err)
	}
	got := string(page.Content().Bytes())
	for _, want := range []string{"2 w\n", "10 51 m\n", "110 51 l\n", "S\n"} {
		if !strings.Contains(got, want) {
			t.Fatalf("content %q missing %q", got, want)
		}
	}
}

func TestDrawGradient(t *testing.T) {
	doc, page := newPage(t)
	r := New(doc, Options{Supersample: 2})
	g := &draft.Gradient{Kind: draft.GradientLinear, From: draft.Color{R: 255, A: 1}, To: draft.Color{B: 255, A: 1}}
	err := r.Draw(page, Spec{
		Kind: draft.ShapeRoundRect, Rect: coords.Rect{LLX: 10, LLY: 10, URX: 50, URY: 30},
		Radius: 4, Fill: red, Gradient: g, Opacity: 1,
	})
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	got := string(page.Content().Bytes())
	for _, want := range []string{"40 0 0 20 10 10 cm\n", "/FKIm1 Do\n"} {
		if !strings.Contains(got, want) {
			t.Fatalf("content %q missing %q", got, want)
		}
	}
	if strings.Contains(got, " re\n") || strings.Contains(got, "f\n") {
		t.Fatalf("gradient must replace the solid fill: %q", got)
	}
	out, err := doc.Save(context.Background())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	// rounded corners need a soft mask; the canvas is 80x40 pixels
	for _, want := range []string{"/SMask", "/Width 80", "/Height 40"} {
		if !bytes.Contains(out, []byte(want)) {
			t.Fatalf("output missing %s", want)
		}
	}
}

func TestDrawRejectsDegenerate(t *testing.T) {
	doc, page := newPage(t)
	err := New(doc, Options{}).Draw(page, Spec{Kind: draft.ShapeRect, Rect: coords.Rect{LLX: 5, LLY: 5, URX: 5, URY: 9}, Fill: red})
	if !errors.Is(err, diag.ErrGeometryInvalid) {
		t.Fatalf("expected ErrGeometryInvalid, got %v", err)
	}
}

func TestDrawNothingVisible(t *testing.T) {
	doc, page := newPage(t)
	if err := New(doc, Options{}).Draw(page, Spec{Kind: draft.ShapeRect, Rect: coords.Rect{URX: 10, URY: 10}, Stroke: red, Opacity: 1}); err != nil {
		t.Fatalf("draw: %v", err)
	}
	if page.Content().Len() != 0 {
		t.Fatalf("stroke without width should paint nothing: %q", page.Content().Bytes())
	}
}

func TestClampRadius(t *testing.T) {
	tests := []struct{ r, w, h, want float64 }{
		{5, 100, 40, 5},
		{50, 100, 40, 20},
		{-1, 10, 10, 0},
	}
	for _, tc := range tests {
		if got := ClampRadius(tc.r, tc.w, tc.h); got != tc.want {
			t.Fatalf("ClampRadius(%v, %v, %v) = %v, want %v", tc.r, tc.w, tc.h, got, tc.want)
		}
	}
}
