package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/wudi/flyerkit/filters"
	"github.com/wudi/flyerkit/ir/raw"
	"github.com/wudi/flyerkit/recovery"
	"github.com/wudi/flyerkit/scanner"
)

// EntryKind distinguishes the three cross-reference entry types.
type EntryKind int

const (
	EntryFree EntryKind = iota
	EntryInUse
	EntryCompressed
)

// Entry locates one object. InUse entries carry a byte Offset; Compressed
// entries live at position Index inside object stream StreamNum.
type Entry struct {
	Kind      EntryKind
	Offset    int64
	Gen       int
	StreamNum int
	Index     int
}

// Table is the merged view over every cross-reference section of a file.
type Table interface {
	Lookup(objNum int) (Entry, bool)
	Objects() []int
	Trailer() *raw.DictObj
	Repaired() bool
}

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, data []byte) (Table, error)
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Scanner      scanner.Config
	Filters      *filters.Pipeline
}

// NewResolver returns a resolver for classic tables, xref streams, hybrid
// files and incremental updates. When the chain cannot be read and the
// recovery strategy allows it, the table is rebuilt by scanning the file.
func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = 50
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.DefaultPipeline(filters.Limits{})
	}
	return &chainResolver{cfg: cfg}
}

type chainResolver struct{ cfg ResolverConfig }

func (c *chainResolver) Resolve(ctx context.Context, data []byte) (Table, error) {
	t, err := c.resolveChain(ctx, data)
	if err == nil && len(t.entries) > 0 {
		return t, nil
	}
	if err == nil {
		err = errors.New("cross-reference table is empty")
	}
	if c.cfg.Recovery == nil {
		return nil, err
	}
	action := c.cfg.Recovery.OnError(ctx, err, recovery.Location{Component: "xref"})
	if action == recovery.ActionFail {
		return nil, err
	}
	return Repair(ctx, data, c.cfg.Scanner)
}

func (c *chainResolver) resolveChain(ctx context.Context, data []byte) (*table, error) {
	offset, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	t := &table{entries: make(map[int]Entry)}
	visited := make(map[int64]bool)
	for depth := 0; offset >= 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= c.cfg.MaxXRefDepth {
			return nil, fmt.Errorf("xref chain deeper than %d", c.cfg.MaxXRefDepth)
		}
		if visited[offset] {
			break
		}
		visited[offset] = true

		trailer, err := c.readSection(ctx, data, offset, t)
		if err != nil {
			return nil, fmt.Errorf("xref section at %d: %w", offset, err)
		}
		if t.trailer == nil {
			t.trailer = trailer
		}
		offset = -1
		if prev, ok := trailer.IntValue("Prev"); ok && prev > 0 {
			offset = prev
		}
	}
	if t.trailer != nil {
		t.trailer.Delete("Prev")
		t.trailer.Delete("XRefStm")
	}
	return t, nil
}

// readSection merges one section into t. Entries already present came from
// a newer revision and win.
func (c *chainResolver) readSection(ctx context.Context, data []byte, offset int64, t *table) (*raw.DictObj, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, fmt.Errorf("offset out of range: %d", offset)
	}
	s := scanner.New(data, c.cfg.Scanner)
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		entries, trailer, err := readClassic(s)
		if err != nil {
			return nil, err
		}
		// Hybrid files list compressed objects as free in the table and
		// locate them through the XRefStm of the same revision.
		if stm, ok := trailer.IntValue("XRefStm"); ok && stm > 0 {
			if streamEntries, _, err := c.readStream(ctx, data, stm); err == nil {
				for num, e := range streamEntries {
					if cur, ok := entries[num]; (!ok || cur.Kind == EntryFree) && e.Kind != EntryFree {
						entries[num] = e
					}
				}
			}
		}
		t.merge(entries)
		return trailer, nil
	}
	entries, trailer, err := c.readStream(ctx, data, offset)
	if err != nil {
		return nil, err
	}
	t.merge(entries)
	return trailer, nil
}

func readClassic(s scanner.Scanner) (map[int]Entry, *raw.DictObj, error) {
	entries := make(map[int]Entry)
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("unexpected end of xref section: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			obj, err := raw.NewParser(s).ParseObject()
			if err != nil {
				return nil, nil, fmt.Errorf("parse trailer: %w", err)
			}
			trailer, ok := obj.(*raw.DictObj)
			if !ok {
				return nil, nil, errors.New("trailer is not a dictionary")
			}
			return entries, trailer, nil
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, nil, fmt.Errorf("invalid xref subsection header at %d", tok.Pos)
		}
		countTok, err := s.Next()
		if err != nil || countTok.Type != scanner.TokenNumber || !countTok.IsInt {
			return nil, nil, fmt.Errorf("invalid xref subsection count at %d", tok.Pos)
		}
		start := int(tok.Int)
		for i := 0; i < int(countTok.Int); i++ {
			offTok, err1 := s.Next()
			genTok, err2 := s.Next()
			kindTok, err3 := s.Next()
			if err := errors.Join(err1, err2, err3); err != nil {
				return nil, nil, fmt.Errorf("truncated xref entry: %w", err)
			}
			if offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber || kindTok.Type != scanner.TokenKeyword {
				return nil, nil, fmt.Errorf("invalid xref entry at %d", offTok.Pos)
			}
			num := start + i
			if kindTok.Str == "n" && offTok.Int > 0 {
				entries[num] = Entry{Kind: EntryInUse, Offset: offTok.Int, Gen: int(genTok.Int)}
			} else {
				entries[num] = Entry{Kind: EntryFree, Gen: int(genTok.Int)}
			}
		}
	}
}

// readStream decodes a cross-reference stream object at offset.
func (c *chainResolver) readStream(ctx context.Context, data []byte, offset int64) (map[int]Entry, *raw.DictObj, error) {
	_, obj, err := raw.ReadIndirectObject(data, offset, c.cfg.Scanner)
	if err != nil {
		return nil, nil, err
	}
	stream, ok := obj.(*raw.StreamObj)
	if !ok || stream.Dict.NameValue("Type") != "XRef" {
		return nil, nil, errors.New("expected xref stream")
	}
	payload, err := c.cfg.Filters.DecodeStream(ctx, stream)
	if err != nil {
		return nil, nil, fmt.Errorf("decode xref stream: %w", err)
	}
	widths, err := intArray(stream.Dict, "W")
	if err != nil || len(widths) != 3 {
		return nil, nil, errors.New("xref stream /W must hold three widths")
	}
	size, _ := stream.Dict.IntValue("Size")
	index, err := intArray(stream.Dict, "Index")
	if err != nil || len(index) == 0 {
		index = []int64{0, size}
	}
	rowLen := int(widths[0] + widths[1] + widths[2])
	if rowLen <= 0 {
		return nil, nil, errors.New("xref stream row width is zero")
	}

	entries := make(map[int]Entry)
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := int(index[i]), int(index[i+1])
		for j := 0; j < count; j++ {
			if pos+rowLen > len(payload) {
				return entries, stream.Dict, nil
			}
			row := payload[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1)
			if widths[0] > 0 {
				typ = readField(row[:widths[0]])
			}
			f2 := readField(row[widths[0] : widths[0]+widths[1]])
			f3 := readField(row[widths[0]+widths[1]:])
			switch typ {
			case 0:
				entries[start+j] = Entry{Kind: EntryFree, Gen: int(f3)}
			case 1:
				entries[start+j] = Entry{Kind: EntryInUse, Offset: f2, Gen: int(f3)}
			case 2:
				entries[start+j] = Entry{Kind: EntryCompressed, StreamNum: int(f2), Index: int(f3)}
			}
		}
	}
	return entries, stream.Dict, nil
}

func readField(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func intArray(d *raw.DictObj, key string) ([]int64, error) {
	v, ok := d.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("missing /%s", key)
	}
	arr, ok := v.(*raw.ArrayObj)
	if !ok {
		return nil, fmt.Errorf("/%s is not an array", key)
	}
	out := make([]int64, 0, arr.Len())
	for _, item := range arr.Items {
		n, ok := item.(raw.NumberObj)
		if !ok {
			return nil, fmt.Errorf("/%s holds a non-number", key)
		}
		out = append(out, n.Int())
	}
	return out, nil
}

func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("startxref not found")
	}
	rest := bytes.TrimLeft(data[idx+len("startxref"):], " \t\r\n\f\x00")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	offset, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	if offset <= 0 || offset >= int64(len(data)) {
		return 0, fmt.Errorf("xref offset out of range: %d", offset)
	}
	return offset, nil
}

type table struct {
	entries  map[int]Entry
	trailer  *raw.DictObj
	repaired bool
}

func (t *table) merge(entries map[int]Entry) {
	for num, e := range entries {
		if _, exists := t.entries[num]; !exists {
			t.entries[num] = e
		}
	}
}

func (t *table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Kind == EntryFree {
		return Entry{}, false
	}
	return e, true
}

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.Kind != EntryFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (t *table) Trailer() *raw.DictObj { return t.trailer }
func (t *table) Repaired() bool        { return t.repaired }
