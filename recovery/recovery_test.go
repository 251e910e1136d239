package recovery_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wudi/flyerkit/ir/raw"
	"github.com/wudi/flyerkit/parser"
	"github.com/wudi/flyerkit/recovery"
	"github.com/wudi/flyerkit/writer"
)

// brokenLengthPDF writes a valid file, then corrupts the content stream's
// /Length without moving any byte offsets.
func brokenLengthPDF(t *testing.T) []byte {
	t.Helper()
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
	page.Put("Contents", raw.Ref(4, 0))
	trailer := raw.Dict()
	trailer.Put("Root", raw.Ref(1, 0))
	doc := &raw.Document{
		Objects: map[raw.ObjectRef]raw.Object{
			{Num: 1}: catalog,
			{Num: 2}: pages,
			{Num: 3}: page,
			{Num: 4}: raw.NewStream(raw.Dict(), []byte("BT /F1 12 Tf (Hello) Tj ET")),
		},
		Trailer: trailer,
	}
	var buf bytes.Buffer
	if err := writer.New(writer.Config{Deterministic: true}).Write(context.Background(), doc, &buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.Bytes()
	if !bytes.Contains(out, []byte("/Length 26>>")) {
		t.Fatalf("fixture does not contain expected length: %q", out)
	}
	return bytes.Replace(out, []byte("/Length 26>>"), []byte("/Length 99>>"), 1)
}

func TestStrictStrategyFailsOnBadStreamLength(t *testing.T) {
	cfg := parser.Config{Recovery: recovery.NewStrictStrategy()}
	if _, err := parser.NewDocumentParser(cfg).Parse(context.Background(), brokenLengthPDF(t)); err == nil {
		t.Fatal("expected error with StrictStrategy")
	}
}

func TestLenientStrategyRecoversBadStreamLength(t *testing.T) {
	rec := recovery.NewLenientStrategy()
	doc, err := parser.NewDocumentParser(parser.Config{Recovery: rec}).Parse(context.Background(), brokenLengthPDF(t))
	if err != nil {
		t.Fatalf("expected success with LenientStrategy, got %v", err)
	}
	s, ok := doc.Objects[raw.ObjectRef{Num: 4}].(*raw.StreamObj)
	if !ok || string(s.Data) != "BT /F1 12 Tf (Hello) Tj ET" {
		t.Fatalf("stream not recovered: %#v", doc.Objects[raw.ObjectRef{Num: 4}])
	}
	if len(rec.Errors()) == 0 {
		t.Fatalf("lenient strategy recorded nothing")
	}
}

func TestLenientStrategyRecordsLocation(t *testing.T) {
	rec := recovery.NewLenientStrategy()
	action := rec.OnError(context.Background(), errors.New("boom"), recovery.Location{Component: "scanner", ObjectNum: 7, ByteOffset: 120})
	if action != recovery.ActionFix {
		t.Fatalf("expected fix, got %s", action)
	}
	errs := rec.Errors()
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "scanner obj 7 0 @120") {
		t.Fatalf("unexpected errors: %v", errs)
	}
	// The snapshot is a copy.
	errs[0] = nil
	if rec.Errors()[0] == nil {
		t.Fatalf("Errors returned internal slice")
	}
}

func TestActionString(t *testing.T) {
	tests := map[recovery.Action]string{
		recovery.ActionFail: "fail",
		recovery.ActionSkip: "skip",
		recovery.ActionFix:  "fix",
		recovery.ActionWarn: "warn",
		recovery.Action(42): "unknown",
	}
	for action, want := range tests {
		if got := action.String(); got != want {
			t.Fatalf("Action(%d).String() = %q, want %q", int(action), got, want)
		}
	}
	if got := (recovery.Location{Component: "xref", ByteOffset: 9}).String(); got != "xref @9" {
		t.Fatalf("location without object: %q", got)
	}
}

func TestLenientCountsPastLimit(t *testing.T) {
	rec := recovery.NewLenientStrategy()
	for i := 0; i < recovery.MaxRecorded+5; i++ {
		rec.OnError(context.Background(), errors.New("damaged"), recovery.Location{Component: "xref"})
	}
	if got := len(rec.Errors()); got != recovery.MaxRecorded {
		t.Fatalf("recorded %d repairs", got)
	}
	if rec.Count() != recovery.MaxRecorded+5 {
		t.Fatalf("count = %d", rec.Count())
	}
}
