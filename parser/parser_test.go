package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wudi/flyerkit/ir/raw"
	"github.com/wudi/flyerkit/recovery"
)

func TestDocumentParserParsesClassicXRef(t *testing.T) {
	data := buildClassicPDF()
	p := NewDocumentParser(Config{})

	doc, err := p.Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if doc.Trailer == nil {
		t.Fatalf("trailer not captured")
	}
	if got := doc.Version; got != "1.7" {
		t.Fatalf("expected version 1.7, got %q", got)
	}
	if len(doc.Objects) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(doc.Objects))
	}
	if _, ok := doc.Objects[raw.ObjectRef{Num: 1, Gen: 0}]; !ok {
		t.Fatalf("catalog missing")
	}
}

func TestDocumentParserFollowsPrevChain(t *testing.T) {
	data := buildIncrementalPDF()
	p := NewDocumentParser(Config{})

	doc, err := p.Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, ok := doc.Objects[raw.ObjectRef{Num: 3, Gen: 0}]; !ok {
		t.Fatalf("incremental object missing")
	}
	obj2, ok := doc.Objects[raw.ObjectRef{Num: 2, Gen: 0}].(*raw.DictObj)
	if !ok {
		t.Fatalf("expected dict for object 2, got %T", doc.Objects[raw.ObjectRef{Num: 2, Gen: 0}])
	}
	countObj, ok := obj2.Get(raw.NameObj{Val: "Count"})
	if !ok {
		t.Fatalf("Count missing on updated pages")
	}
	if num, ok := countObj.(raw.NumberObj); !ok || num.Int() != 2 {
		t.Fatalf("expected Count 2 after update, got %#v", countObj)
	}
	if doc.Trailer == nil {
		t.Fatalf("trailer missing")
	}
	if _, ok := doc.Trailer.Lookup("Prev"); ok {
		t.Fatalf("Prev should not survive on the merged trailer")
	}
}

func TestDocumentParserRejectsEncrypted(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 2\n0000000000 65535 f \n%010d 00000 n \n", off1)
	fmt.Fprintf(buf, "trailer\n<< /Size 2 /Root 1 0 R /Encrypt << /Filter /Standard >> >>\nstartxref\n%d\n%%%%EOF\n", xrefOff)

	_, err := NewDocumentParser(Config{}).Parse(context.Background(), buf.Bytes())
	if !errors.Is(err, ErrEncrypted) {
		t.Fatalf("expected ErrEncrypted, got %v", err)
	}
}

func TestDocumentParserRepairsStaleOffsets(t *testing.T) {
	data := buildClassicPDF()
	// Shift every object by inserting bytes after the header.
	shifted := append([]byte("%PDF-1.7\n% padding padding\n"), data[len("%PDF-1.7\n"):]...)

	if _, err := NewDocumentParser(Config{}).Parse(context.Background(), shifted); err == nil {
		t.Fatalf("strict parse of stale offsets should fail")
	}
	rec := recovery.NewLenientStrategy()
	doc, err := NewDocumentParser(Config{Recovery: rec}).Parse(context.Background(), shifted)
	if err != nil {
		t.Fatalf("lenient parse failed: %v", err)
	}
	if len(doc.Objects) != 2 {
		t.Fatalf("expected 2 objects after repair, got %d", len(doc.Objects))
	}
	if len(rec.Errors()) == 0 {
		t.Fatalf("expected recorded recovery errors")
	}
}

func TestDocumentParserExpandsObjectStreams(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.5\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	body := "<< /Type /Pages /Kids [] /Count 0 >>"
	header := "2 0 "
	decoded := header + body
	off3 := buf.Len()
	fmt.Fprintf(buf, "3 0 obj\n<< /Type /ObjStm /N 1 /First %d /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(header), len(decoded), decoded)

	xrefOff := buf.Len()
	rows := []byte{
		0, 0, 0, 0, 0, 0,
		1, 0, 0, 0, byte(off1), 0,
		2, 0, 0, 0, 3, 0,
		1, 0, 0, 0, byte(off3), 0,
		1, 0, 0, byte(xrefOff >> 8), byte(xrefOff), 0,
	}
	fmt.Fprintf(buf, "4 0 obj\n<< /Type /XRef /Size 5 /Root 1 0 R /W [1 4 1] /Length %d >>\nstream\n", len(rows))
	buf.Write(rows)
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOff)

	doc, err := NewDocumentParser(Config{}).Parse(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pages, ok := doc.Objects[raw.ObjectRef{Num: 2}].(*raw.DictObj)
	if !ok || pages.NameValue("Type") != "Pages" {
		t.Fatalf("expected pages from object stream, got %#v", doc.Objects[raw.ObjectRef{Num: 2}])
	}
	if _, ok := doc.Objects[raw.ObjectRef{Num: 3}]; ok {
		t.Fatalf("object stream container should not survive parsing")
	}
	if _, ok := doc.Objects[raw.ObjectRef{Num: 4}]; ok {
		t.Fatalf("xref stream should not survive parsing")
	}
	if doc.Version != "1.5" {
		t.Fatalf("unexpected version %q", doc.Version)
	}
}

func TestDocumentParserFindsCatalogWithoutTrailer(t *testing.T) {
	data := []byte("%PDF-1.4\n1 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n2 0 obj\n<< /Type /Catalog /Pages 1 0 R >>\nendobj\n%%EOF\n")
	doc, err := NewDocumentParser(Config{Recovery: recovery.NewLenientStrategy()}).Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	root, _ := doc.Trailer.Lookup("Root")
	if ref, ok := root.(raw.RefObj); !ok || ref.R.Num != 2 {
		t.Fatalf("expected catalog 2 as root, got %#v", root)
	}
}

func buildClassicPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	xrefOffset := buf.Len()
	fmt.Fprintf(buf, "xref\n0 3\n")
	fmt.Fprintf(buf, "0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n", off1, off2)
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	buf.WriteString("startxref\n")
	fmt.Fprintf(buf, "%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes()
}

func buildIncrementalPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 1 >>\nendobj\n")

	xref1 := buf.Len()
	fmt.Fprintf(buf, "xref\n0 3\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n", off1, off2)
	fmt.Fprintf(buf, "trailer\n<< /Size 3 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref1)

	// Incremental update: replace object 2 and add object 3.
	off2b := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 2 >>\nendobj\n")

	off3 := buf.Len()
	buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R >>\nendobj\n")

	xref2 := buf.Len()
	fmt.Fprintf(buf, "xref\n2 2\n%010d 00000 n \n%010d 00000 n \n", off2b, off3)
	fmt.Fprintf(buf, "trailer\n<< /Size 4 /Root 1 0 R /Prev %d >>\n", xref1)
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xref2)
	return buf.Bytes()
}
