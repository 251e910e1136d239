package parser

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/wudi/flyerkit/ir/raw"
	"github.com/wudi/flyerkit/xref"
)

func TestObjectLoaderCachesObjects(t *testing.T) {
	src := buildClassicPDF()
	cache := &mapCache{}

	table, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), src)
	if err != nil {
		t.Fatalf("resolve xref: %v", err)
	}
	loader, err := (&ObjectLoaderBuilder{}).WithData(src).WithXRef(table).WithCache(cache).Build()
	if err != nil {
		t.Fatalf("build loader: %v", err)
	}
	if _, err := loader.Load(context.Background(), raw.ObjectRef{Num: 1, Gen: 0}); err != nil {
		t.Fatalf("load object: %v", err)
	}
	if _, ok := cache.Get(raw.ObjectRef{Num: 1, Gen: 0}); !ok {
		t.Fatalf("expected object cached after load")
	}
}

func TestObjectLoaderResolvesIndirectLength(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Length 2 0 R >>\nstream\nendstream inside\nendstream\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n16\nendobj\n")
	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 3\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n", off1, off2)
	fmt.Fprintf(buf, "trailer\n<< /Size 3 >>\nstartxref\n%d\n%%%%EOF\n", xrefOff)
	data := buf.Bytes()

	table, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), data)
	if err != nil {
		t.Fatalf("resolve xref: %v", err)
	}
	loader, _ := (&ObjectLoaderBuilder{}).WithData(data).WithXRef(table).Build()
	obj, err := loader.Load(context.Background(), raw.ObjectRef{Num: 1})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s, ok := obj.(*raw.StreamObj)
	if !ok || string(s.Data) != "endstream inside" {
		t.Fatalf("unexpected stream %#v", obj)
	}
}

func TestObjectLoaderRequiresTable(t *testing.T) {
	if _, err := (&ObjectLoaderBuilder{}).Build(); err == nil {
		t.Fatalf("expected error without xref table")
	}
}
