package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/wudi/flyerkit/ir/raw"
	"github.com/wudi/flyerkit/parser"
)

func sampleDocument() *raw.Document {
	catalog := raw.Dict()
	catalog.Put("Type", raw.NameLiteral("Catalog"))
	catalog.Put("Pages", raw.Ref(2, 0))

	pages := raw.Dict()
	pages.Put("Type", raw.NameLiteral("Pages"))
	pages.Put("Kids", raw.NewArray(raw.Ref(3, 0)))
	pages.Put("Count", raw.NumberInt(1))

	page := raw.Dict()
	page.Put("Type", raw.NameLiteral("Page"))
	page.Put("Parent", raw.Ref(2, 0))
	page.Put("MediaBox", raw.Numbers(0, 0, 595.28, 841.89))
	page.Put("Contents", raw.Ref(5, 0))

	content := raw.NewStream(raw.Dict(), []byte("0 0 1 rg 10 10 100 50 re f"))

	trailer := raw.Dict()
	trailer.Put("Root", raw.Ref(1, 0))
	return &raw.Document{
		Version: "1.3",
		Objects: map[raw.ObjectRef]raw.Object{
			{Num: 1}: catalog,
			{Num: 2}: pages,
			{Num: 3}: page,
			{Num: 5}: content,
		},
		Trailer: trailer,
	}
}

func TestWriterRoundTripPipeline(t *testing.T) {
	var buf bytes.Buffer
	if err := New(Config{Deterministic: true}).Write(context.Background(), sampleDocument(), &buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.Bytes()
	if !bytes.HasPrefix(out, []byte("%PDF-1.4\n%\xE2\xE3\xCF\xD3\n")) {
		t.Fatalf("unexpected header %q", out[:20])
	}
	doc, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(doc.Objects) != 4 {
		t.Fatalf("expected 4 objects, got %d", len(doc.Objects))
	}
	s, ok := doc.Objects[raw.ObjectRef{Num: 5}].(*raw.StreamObj)
	if !ok || string(s.Data) != "0 0 1 rg 10 10 100 50 re f" {
		t.Fatalf("content stream did not survive: %#v", doc.Objects[raw.ObjectRef{Num: 5}])
	}
	if _, ok := doc.Trailer.Lookup("ID"); !ok {
		t.Fatalf("expected /ID in trailer")
	}
}

func TestWriter_Deterministic(t *testing.T) {
	w := New(Config{Deterministic: true})
	var a, b bytes.Buffer
	if err := w.Write(context.Background(), sampleDocument(), &a); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := w.Write(context.Background(), sampleDocument(), &b); err != nil {
		t.Fatalf("write b: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatalf("identical documents produced different bytes")
	}
}

func TestWriter_XRefTableOffsets(t *testing.T) {
	var buf bytes.Buffer
	if err := New(Config{}).Write(context.Background(), sampleDocument(), &buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	for _, num := range []int{1, 2, 3, 5} {
		off := strings.Index(out, fmt.Sprintf("\n%d 0 obj\n", num)) + 1
		entry := fmt.Sprintf("%010d 00000 n \n", off)
		if !strings.Contains(out, entry) {
			t.Fatalf("missing xref entry %q for object %d", entry, num)
		}
	}
	// Object 4 is a gap and must sit on the free list.
	if !strings.Contains(out, "xref\n0 6\n0000000004 65535 f \n") {
		t.Fatalf("free list head should point at object 4:\n%s", out[strings.Index(out, "xref"):])
	}
	if !strings.Contains(out, "/Size 6") {
		t.Fatalf("trailer /Size should be 6")
	}
}

func TestWriter_RequiresRoot(t *testing.T) {
	doc := sampleDocument()
	doc.Trailer = raw.Dict()
	if err := New(Config{}).Write(context.Background(), doc, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error without /Root")
	}
}

func TestWriterHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	err := New(Config{}).Write(ctx, sampleDocument(), &buf)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("cancelled write produced %d bytes", buf.Len())
	}
}
