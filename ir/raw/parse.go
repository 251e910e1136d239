package raw

import (
	"errors"
	"fmt"
	"io"

	"github.com/wudi/flyerkit/recovery"
	"github.com/wudi/flyerkit/scanner"
)

// ErrNotObject is returned when an offset does not start an "N G obj" header.
var ErrNotObject = errors.New("no object header at offset")

// Parser turns scanner tokens into raw objects.
type Parser struct {
	s         scanner.Scanner
	buf       []scanner.Token
	maxArray  int
	maxDict   int
	lengthFor func(Object) (int64, bool)
}

// ParserOption customizes a Parser.
type ParserOption func(*Parser)

// WithCollectionLimits bounds the number of array elements and dictionary entries.
func WithCollectionLimits(maxArray, maxDict int) ParserOption {
	return func(p *Parser) {
		p.maxArray = maxArray
		p.maxDict = maxDict
	}
}

// WithLengthResolver supplies the callback used to turn a stream /Length
// value (often an indirect reference) into a byte count.
func WithLengthResolver(fn func(Object) (int64, bool)) ParserOption {
	return func(p *Parser) { p.lengthFor = fn }
}

func NewParser(s scanner.Scanner, opts ...ParserOption) *Parser {
	p := &Parser{s: s}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Parser) next() (scanner.Token, error) {
	if n := len(p.buf); n > 0 {
		tok := p.buf[n-1]
		p.buf = p.buf[:n-1]
		return tok, nil
	}
	return p.s.Next()
}

func (p *Parser) unread(tok scanner.Token) { p.buf = append(p.buf, tok) }

// ParseObject reads one complete object from the token stream.
func (p *Parser) ParseObject() (Object, error) {
	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	return p.parseFrom(tok)
}

func (p *Parser) parseFrom(tok scanner.Token) (Object, error) {
	switch tok.Type {
	case scanner.TokenDict:
		return p.parseDict()
	case scanner.TokenArray:
		return p.parseArray()
	case scanner.TokenName:
		return NameObj{Val: tok.Str}, nil
	case scanner.TokenString:
		return StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return NumberInt(tok.Int), nil
		}
		return NumberFloat(tok.Float), nil
	case scanner.TokenBoolean:
		return Bool(tok.Bool), nil
	case scanner.TokenNull:
		return NullObj{}, nil
	case scanner.TokenRef:
		return Ref(int(tok.Int), tok.Gen), nil
	default:
		return nil, fmt.Errorf("unexpected token %q at %d", tok.Str, tok.Pos)
	}
}

func (p *Parser) parseArray() (Object, error) {
	arr := &ArrayObj{}
	for {
		tok, err := p.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return arr, nil
			}
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		if tok.Type == scanner.TokenKeyword && (tok.Str == "endobj" || tok.Str == ">>") {
			// Unclosed array; let the caller see the terminator.
			p.unread(tok)
			return arr, nil
		}
		obj, err := p.parseFrom(tok)
		if err != nil {
			return nil, err
		}
		arr.Append(obj)
		if p.maxArray > 0 && arr.Len() > p.maxArray {
			return nil, fmt.Errorf("array exceeds %d elements", p.maxArray)
		}
	}
}

func (p *Parser) parseDict() (Object, error) {
	dict := Dict()
	for {
		tok, err := p.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return dict, nil
			}
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return dict, nil
		}
		if tok.Type == scanner.TokenStream || (tok.Type == scanner.TokenKeyword && tok.Str == "endobj") {
			p.unread(tok)
			return dict, nil
		}
		if tok.Type != scanner.TokenName {
			// Skip stray values where a key was expected.
			continue
		}
		valTok, err := p.next()
		if err != nil {
			return nil, err
		}
		if valTok.Type == scanner.TokenKeyword && valTok.Str == ">>" {
			dict.Put(tok.Str, NullObj{})
			return dict, nil
		}
		val, err := p.parseFrom(valTok)
		if err != nil {
			return nil, err
		}
		dict.Put(tok.Str, val)
		if p.maxDict > 0 && dict.Len() > p.maxDict {
			return nil, fmt.Errorf("dictionary exceeds %d entries", p.maxDict)
		}
	}
}

// ParseIndirect reads "N G obj <object> [stream ... endstream] endobj" at the
// scanner's current position.
func (p *Parser) ParseIndirect() (ObjectRef, Object, error) {
	numTok, err := p.next()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	genTok, err := p.next()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	objTok, err := p.next()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	if numTok.Type != scanner.TokenNumber || !numTok.IsInt ||
		genTok.Type != scanner.TokenNumber || !genTok.IsInt ||
		objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
		return ObjectRef{}, nil, fmt.Errorf("%w %d", ErrNotObject, numTok.Pos)
	}
	ref := ObjectRef{Num: int(numTok.Int), Gen: int(genTok.Int)}
	p.s.SetRecoveryLocation(recovery.Location{ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "parser"})

	obj, err := p.ParseObject()
	if err != nil {
		return ref, nil, fmt.Errorf("object %s: %w", ref, err)
	}
	dict, isDict := obj.(*DictObj)
	if isDict && len(p.buf) == 0 {
		if lv, ok := dict.Lookup("Length"); ok {
			if n, ok := p.streamLength(lv); ok {
				p.s.SetNextStreamLength(n)
			}
		}
	}
	tok, err := p.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ref, obj, nil
		}
		return ref, nil, fmt.Errorf("object %s: %w", ref, err)
	}
	if tok.Type == scanner.TokenStream && isDict {
		return ref, NewStream(dict, tok.Bytes), nil
	}
	// Anything other than endobj means the producer forgot it; the object
	// is still usable.
	return ref, obj, nil
}

func (p *Parser) streamLength(v Object) (int64, bool) {
	if n, ok := v.(NumberObj); ok && n.Int() >= 0 {
		return n.Int(), true
	}
	if p.lengthFor != nil {
		return p.lengthFor(v)
	}
	return 0, false
}

// ReadIndirectObject parses the indirect object starting at offset in data.
func ReadIndirectObject(data []byte, offset int64, cfg scanner.Config, opts ...ParserOption) (ObjectRef, Object, error) {
	s := scanner.New(data, cfg)
	if err := s.SeekTo(offset); err != nil {
		return ObjectRef{}, nil, fmt.Errorf("object at %d: %w", offset, err)
	}
	return NewParser(s, opts...).ParseIndirect()
}
