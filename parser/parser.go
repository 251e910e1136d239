package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/wudi/flyerkit/filters"
	"github.com/wudi/flyerkit/ir/raw"
	"github.com/wudi/flyerkit/recovery"
	"github.com/wudi/flyerkit/scanner"
	"github.com/wudi/flyerkit/security"
	"github.com/wudi/flyerkit/xref"
)

var (
	// ErrEncrypted is returned for templates carrying an /Encrypt dictionary.
	ErrEncrypted = errors.New("encrypted documents are not supported")
	// ErrNoCatalog is returned when no document catalog can be located.
	ErrNoCatalog = errors.New("document catalog not found")
)

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Recovery recovery.Strategy
	Limits   security.Limits
	Cache    Cache
}

// DocumentParser builds a raw.Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	cfg.Limits = cfg.Limits.WithDefaults()
	return &DocumentParser{cfg: cfg}
}

// Parse loads every live object of data. The newest revision of each object
// wins, object streams are expanded, and the returned trailer keeps only
// /Root, /Info and /ID.
func (p *DocumentParser) Parse(ctx context.Context, data []byte) (*raw.Document, error) {
	if p.cfg.Limits.MaxParseTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Limits.MaxParseTime)
		defer cancel()
	}
	version, err := p.headerVersion(ctx, data)
	if err != nil {
		return nil, err
	}

	scanCfg := scanner.Config{
		MaxStringLength: p.cfg.Limits.MaxStringLength,
		MaxStreamLength: p.cfg.Limits.MaxStreamLength,
		Recovery:        p.cfg.Recovery,
	}
	pipeline := filters.DefaultPipeline(filters.Limits{
		MaxDecompressedSize: p.cfg.Limits.MaxDecompressedSize,
		MaxDecodeTime:       p.cfg.Limits.MaxDecodeTime,
	})
	resolver := xref.NewResolver(xref.ResolverConfig{
		MaxXRefDepth: p.cfg.Limits.MaxXRefDepth,
		Recovery:     p.cfg.Recovery,
		Scanner:      scanCfg,
		Filters:      pipeline,
	})
	table, err := resolver.Resolve(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	if _, ok := table.Trailer().Lookup("Encrypt"); ok {
		return nil, ErrEncrypted
	}

	doc, err := p.loadAll(ctx, data, table, pipeline, scanCfg)
	if err != nil && !table.Repaired() && p.allows(ctx, err, "parser:reload") {
		// Offsets that do not land on their objects usually mean a stale
		// table; rebuild it from the file body and try once more.
		repaired, rerr := xref.Repair(ctx, data, scanCfg)
		if rerr == nil {
			doc, err = p.loadAll(ctx, data, repaired, pipeline, scanCfg)
		}
	}
	if err != nil {
		return nil, err
	}
	doc.Version = version
	return doc, nil
}

func (p *DocumentParser) allows(ctx context.Context, err error, component string) bool {
	if p.cfg.Recovery == nil {
		return false
	}
	return p.cfg.Recovery.OnError(ctx, err, recovery.Location{Component: component}) != recovery.ActionFail
}

func (p *DocumentParser) headerVersion(ctx context.Context, data []byte) (string, error) {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	idx := bytes.Index(head, []byte("%PDF-"))
	if idx < 0 || idx+8 > len(data) {
		err := errors.New("missing %PDF- header")
		if !p.allows(ctx, err, "parser:header") {
			return "", err
		}
		return "1.7", nil
	}
	return string(data[idx+5 : idx+8]), nil
}

func (p *DocumentParser) loadAll(ctx context.Context, data []byte, table xref.Table, pipeline *filters.Pipeline, scanCfg scanner.Config) (*raw.Document, error) {
	builder := &ObjectLoaderBuilder{pipeline: pipeline}
	loader, err := builder.WithData(data).WithXRef(table).WithLimits(p.cfg.Limits).
		WithCache(p.cfg.Cache).WithRecovery(p.cfg.Recovery).Build()
	if err != nil {
		return nil, err
	}

	doc := &raw.Document{Objects: make(map[raw.ObjectRef]raw.Object)}
	var objStms []*raw.StreamObj
	for _, num := range table.Objects() {
		if num == 0 {
			continue
		}
		entry, _ := table.Lookup(num)
		gen := entry.Gen
		if entry.Kind == xref.EntryCompressed {
			gen = 0
		}
		ref := raw.ObjectRef{Num: num, Gen: gen}
		obj, err := loader.Load(ctx, ref)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			loc := recovery.Location{Component: "parser:object", ObjectNum: num, ObjectGen: gen, ByteOffset: entry.Offset}
			if p.cfg.Recovery == nil || p.cfg.Recovery.OnError(ctx, err, loc) == recovery.ActionFail {
				return nil, fmt.Errorf("load object %d: %w", num, err)
			}
			continue
		}
		if s, ok := obj.(*raw.StreamObj); ok {
			switch s.Dict.NameValue("Type") {
			case "ObjStm":
				objStms = append(objStms, s)
				continue
			case "XRef":
				continue
			}
		}
		doc.Objects[ref] = obj
	}

	// A repaired table only knows top-level objects; pull the rest out of
	// the object streams without shadowing anything already loaded.
	if table.Repaired() {
		for _, s := range objStms {
			stm, err := decodeObjectStream(ctx, pipeline, s, scanCfg)
			if err != nil {
				continue
			}
			for _, slot := range stm.offsets {
				ref := raw.ObjectRef{Num: slot.num}
				if _, exists := doc.Objects[ref]; exists {
					continue
				}
				if obj, err := stm.parseAt(slot, scanCfg); err == nil {
					doc.Objects[ref] = obj
				}
			}
		}
	}

	trailer := raw.Dict()
	src := table.Trailer()
	for _, key := range []string{"Root", "Info", "ID"} {
		if v, ok := src.Lookup(key); ok {
			trailer.Put(key, v)
		}
	}
	doc.Trailer = trailer
	root, _ := trailer.Lookup("Root")
	if catalog, ok := doc.ResolveDict(root); !ok || catalog.NameValue("Type") == "Pages" {
		ref, found := findCatalog(doc)
		if !found {
			return nil, ErrNoCatalog
		}
		trailer.Put("Root", raw.RefObj{R: ref})
	}
	return doc, nil
}

func findCatalog(doc *raw.Document) (raw.ObjectRef, bool) {
	for _, ref := range doc.SortedRefs() {
		if d, ok := doc.Objects[ref].(*raw.DictObj); ok && d.NameValue("Type") == "Catalog" {
			return ref, true
		}
	}
	return raw.ObjectRef{}, false
}
