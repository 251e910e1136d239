// Package writer serializes a raw document as a fresh, non-incremental PDF
// file with a classic cross-reference table.
package writer

import (
	"context"
	"io"

	"github.com/wudi/flyerkit/ir/raw"
)

type PDFVersion string

const (
	PDF14 PDFVersion = "1.4"
	PDF17 PDFVersion = "1.7"
)

type Config struct {
	// Version overrides the header version; empty keeps the document's own,
	// raised to at least 1.4 for transparency.
	Version PDFVersion
	// Deterministic derives /ID from the written bytes alone.
	Deterministic bool
}

// Writer writes documents with one configuration.
type Writer struct {
	cfg Config
}

func New(cfg Config) *Writer { return &Writer{cfg: cfg} }

// Write serializes doc to out. Objects are written in reference order, so
// equal documents give equal bytes. Nothing reaches out before the whole
// file is assembled.
func (w *Writer) Write(ctx context.Context, doc *raw.Document, out io.Writer) error {
	data, err := w.assemble(ctx, doc)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
