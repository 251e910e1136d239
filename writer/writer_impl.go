package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/wudi/flyerkit/ir/raw"
)

var (
	errNoTrailer = errors.New("document has no trailer")
	errNoRoot    = errors.New("document has no /Root")
)

func (w *Writer) assemble(ctx context.Context, doc *raw.Document) ([]byte, error) {
	if doc == nil || doc.Trailer == nil {
		return nil, errNoTrailer
	}
	root, ok := doc.Trailer.Lookup("Root")
	if !ok {
		return nil, errNoRoot
	}

	var body bytes.Buffer
	body.WriteString("%PDF-" + pdfVersion(doc, w.cfg) + "\n")
	body.WriteString("%\xE2\xE3\xCF\xD3\n")

	refs := doc.SortedRefs()
	xref := make(map[int]xrefEntry, len(refs))
	last := 0
	for i, ref := range refs {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		xref[ref.Num] = xrefEntry{offset: int64(body.Len()), gen: ref.Gen}
		writeObject(&body, ref, doc.Objects[ref])
		last = max(last, ref.Num)
	}

	start := body.Len()
	writeXRefTable(&body, last, xref)

	trailer := raw.Dict()
	trailer.Put("Size", raw.NumberInt(int64(last+1)))
	trailer.Put("Root", root)
	if info, ok := doc.Trailer.Lookup("Info"); ok {
		trailer.Put("Info", info)
	}
	ids := fileID(doc.Trailer, body.Bytes(), w.cfg)
	trailer.Put("ID", raw.NewArray(raw.HexStr(ids[0]), raw.HexStr(ids[1])))

	body.WriteString("trailer\n")
	body.Write(serializePrimitive(trailer))
	fmt.Fprintf(&body, "\nstartxref\n%d\n%%%%EOF\n", start)
	return body.Bytes(), nil
}

type xrefEntry struct {
	offset int64
	gen    int
}

func writeObject(buf *bytes.Buffer, ref raw.ObjectRef, obj raw.Object) {
	fmt.Fprintf(buf, "%d %d obj\n", ref.Num, ref.Gen)
	buf.Write(serializePrimitive(obj))
	buf.WriteString("\nendobj\n")
}

// writeXRefTable emits one subsection covering 0..last. Unused numbers are
// linked into the free list headed by entry 0.
func writeXRefTable(buf *bytes.Buffer, last int, entries map[int]xrefEntry) {
	var free []int
	for n := 1; n <= last; n++ {
		if _, ok := entries[n]; !ok {
			free = append(free, n)
		}
	}
	// next free number after the i-th free entry; 0 closes the list
	next := func(i int) int {
		if i < len(free) {
			return free[i]
		}
		return 0
	}
	fmt.Fprintf(buf, "xref\n0 %d\n", last+1)
	fmt.Fprintf(buf, "%010d 65535 f \n", next(0))
	seen := 0
	for n := 1; n <= last; n++ {
		if e, ok := entries[n]; ok {
			fmt.Fprintf(buf, "%010d %05d n \n", e.offset, e.gen)
			continue
		}
		seen++
		fmt.Fprintf(buf, "%010d 00001 f \n", next(seen))
	}
}
