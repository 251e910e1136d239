package parser

import (
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

// ObjectLoader resolves indirect objects through a cross-reference table.
type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
}

// Cache stores loaded objects for reuse within one parse.
type Cache interface {
	Get(ref raw.ObjectRef) (raw.Object, bool)
	Put(ref raw.ObjectRef, obj raw.Object)
}

type ObjectLoaderBuilder struct {
	data      []byte
	xrefTable xref.Table
	limits    security.Limits
	cache     Cache
	recovery  recovery.Strategy
	pipeline  *filters.Pipeline
}

func (b *ObjectLoaderBuilder) WithXRef(table xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}
func (b *ObjectLoaderBuilder) WithData(data []byte) *ObjectLoaderBuilder {
	b.data = data
	return b
}
func (b *ObjectLoaderBuilder) WithLimits(l security.Limits) *ObjectLoaderBuilder {
	b.limits = l
	return b
}
func (b *ObjectLoaderBuilder) WithCache(c Cache) *ObjectLoaderBuilder { b.cache = c; return b }
func (b *ObjectLoaderBuilder) WithRecovery(r recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = r
	return b
}

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.xrefTable == nil {
		return nil, errors.New("xref table is required")
	}
	limits := b.limits.WithDefaults()
	pipeline := b.pipeline
	if pipeline == nil {
		pipeline = filters.DefaultPipeline(filters.Limits{
			MaxDecompressedSize: limits.MaxDecompressedSize,
			MaxDecodeTime:       limits.MaxDecodeTime,
		})
	}
	cache := b.cache
	if cache == nil {
		cache = &mapCache{}
	}
	return &objectLoader{
		data:     b.data,
		table:    b.xrefTable,
		limits:   limits,
		cache:    cache,
		recovery: b.recovery,
		pipeline: pipeline,
		objStms:  make(map[int]*objectStream),
		loading:  make(map[raw.ObjectRef]bool),
	}, nil
}

type objectLoader struct {
	data     []byte
	table    xref.Table
	limits   security.Limits
	cache    Cache
	recovery recovery.Strategy
	pipeline *filters.Pipeline
	objStms  map[int]*objectStream
	loading  map[raw.ObjectRef]bool
}

type objectStream struct {
	data    []byte
	first   int64
	offsets []objStmSlot
}

type objStmSlot struct {
	num    int
	offset int64
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	return o.load(ctx, ref, 0)
}

func (o *objectLoader) load(ctx context.Context, ref raw.ObjectRef, depth int) (raw.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if depth > o.limits.MaxIndirectDepth {
		return nil, fmt.Errorf("indirect depth exceeded loading %s", ref)
	}
	if obj, ok := o.cache.Get(ref); ok {
		return obj, nil
	}
	if o.loading[ref] {
		return nil, fmt.Errorf("reference cycle at %s", ref)
	}
	o.loading[ref] = true
	defer delete(o.loading, ref)

	entry, ok := o.table.Lookup(ref.Num)
	if !ok {
		return nil, fmt.Errorf("object %s not in xref", ref)
	}
	var (
		obj raw.Object
		err error
	)
	switch entry.Kind {
	case xref.EntryCompressed:
		obj, err = o.loadFromObjectStream(ctx, ref.Num, entry.StreamNum, entry.Index, depth)
	default:
		obj, err = o.loadAtOffset(ctx, ref, entry.Offset, depth)
	}
	if err != nil {
		return nil, err
	}
	o.cache.Put(ref, obj)
	return obj, nil
}

func (o *objectLoader) scannerConfig() scanner.Config {
	return scanner.Config{
		MaxStringLength: o.limits.MaxStringLength,
		MaxStreamLength: o.limits.MaxStreamLength,
		MaxArrayDepth:   o.limits.MaxIndirectDepth,
		MaxDictDepth:    o.limits.MaxIndirectDepth,
		Recovery:        o.recovery,
	}
}

func (o *objectLoader) loadAtOffset(ctx context.Context, ref raw.ObjectRef, offset int64, depth int) (raw.Object, error) {
	got, obj, err := raw.ReadIndirectObject(o.data, offset, o.scannerConfig(),
		raw.WithCollectionLimits(o.limits.MaxArraySize, o.limits.MaxDictSize),
		raw.WithLengthResolver(func(v raw.Object) (int64, bool) {
			r, ok := v.(raw.RefObj)
			if !ok {
				return 0, false
			}
			target, err := o.load(ctx, r.R, depth+1)
			if err != nil {
				return 0, false
			}
			n, ok := target.(raw.NumberObj)
			return n.Int(), ok
		}))
	if err != nil {
		return nil, err
	}
	if got.Num != ref.Num {
		return nil, fmt.Errorf("xref points %s at object %s", ref, got)
	}
	return obj, nil
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, num, streamNum, idx, depth int) (raw.Object, error) {
	stm, err := o.objectStream(ctx, streamNum, depth)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", streamNum, err)
	}
	if idx < 0 || idx >= len(stm.offsets) {
		return nil, fmt.Errorf("object stream %d has no index %d", streamNum, idx)
	}
	slot := stm.offsets[idx]
	if slot.num != num {
		// Index disagrees with the header; trust the header.
		found := false
		for _, s := range stm.offsets {
			if s.num == num {
				slot, found = s, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("object %d not in object stream %d", num, streamNum)
		}
	}
	return stm.parseAt(slot, o.scannerConfig())
}

func (s *objectStream) parseAt(slot objStmSlot, cfg scanner.Config) (raw.Object, error) {
	sc := scanner.New(s.data, cfg)
	if err := sc.SeekTo(s.first + slot.offset); err != nil {
		return nil, err
	}
	return raw.NewParser(sc).ParseObject()
}

func (o *objectLoader) objectStream(ctx context.Context, streamNum, depth int) (*objectStream, error) {
	if stm, ok := o.objStms[streamNum]; ok {
		return stm, nil
	}
	entry, ok := o.table.Lookup(streamNum)
	if !ok || entry.Kind != xref.EntryInUse {
		return nil, errors.New("object stream not in xref")
	}
	obj, err := o.load(ctx, raw.ObjectRef{Num: streamNum, Gen: entry.Gen}, depth+1)
	if err != nil {
		return nil, err
	}
	stream, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("object stream is not a stream")
	}
	stm, err := decodeObjectStream(ctx, o.pipeline, stream, o.scannerConfig())
	if err != nil {
		return nil, err
	}
	o.objStms[streamNum] = stm
	return stm, nil
}

func decodeObjectStream(ctx context.Context, pipeline *filters.Pipeline, stream *raw.StreamObj, cfg scanner.Config) (*objectStream, error) {
	data, err := pipeline.DecodeStream(ctx, stream)
	if err != nil {
		return nil, err
	}
	n, _ := stream.Dict.IntValue("N")
	first, _ := stream.Dict.IntValue("First")
	if n <= 0 || first <= 0 || first > int64(len(data)) {
		return nil, fmt.Errorf("invalid object stream header N=%d First=%d", n, first)
	}
	sc := scanner.New(data[:first], cfg)
	stm := &objectStream{data: data, first: first}
	for i := int64(0); i < n; i++ {
		numTok, err1 := sc.Next()
		offTok, err2 := sc.Next()
		if err := errors.Join(err1, err2); err != nil {
			break
		}
		stm.offsets = append(stm.offsets, objStmSlot{num: int(numTok.Int), offset: offTok.Int})
	}
	return stm, nil
}

type mapCache struct {
	m map[raw.ObjectRef]raw.Object
}

func (c *mapCache) Get(ref raw.ObjectRef) (raw.Object, bool) {
	v, ok := c.m[ref]
	return v, ok
}

func (c *mapCache) Put(ref raw.ObjectRef, obj raw.Object) {
	if c.m == nil {
		c.m = make(map[raw.ObjectRef]raw.Object)
	}
	c.m[ref] = obj
}
