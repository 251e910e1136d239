package parser

import (
	"bytes"
	"context"
	"testing"

	"github.com/wudi/flyerkit/recovery"
)

// FuzzDocumentParser feeds damaged templates to a lenient parse. It must
// never panic, and whatever it returns must have a trailer.
func FuzzDocumentParser(f *testing.F) {
	good := buildClassicPDF()
	f.Add(good)
	f.Add(good[:len(good)/2])
	f.Add(bytes.Replace(good, []byte("xref"), []byte("xreg"), 1))
	f.Add([]byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF"))

	f.Fuzz(func(t *testing.T, data []byte) {
		doc, err := NewDocumentParser(Config{Recovery: recovery.NewLenientStrategy()}).Parse(context.Background(), data)
		if err == nil && doc.Trailer == nil {
			t.Fatalf("parse succeeded without a trailer")
		}
	})
}
