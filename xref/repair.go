package xref

import (
	"context"
	"errors"
	"io"

	"github.com/wudi/flyerkit/ir/raw"
	"github.com/wudi/flyerkit/scanner"
)

// Repair scans the entire file to reconstruct the xref table from
// "<num> <gen> obj" headers. Later definitions win, matching incremental
// update order. The last "trailer" dictionary seen is kept; without one the
// returned trailer holds only /Size and the caller has to find the catalog.
func Repair(ctx context.Context, data []byte, cfg scanner.Config) (Table, error) {
	s := scanner.New(data, cfg)
	entries := make(map[int]Entry)
	var lastTrailer *raw.DictObj
	var window [2]scanner.Token
	filled := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		before := s.Position()
		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if s.Position() == before {
				if s.SeekTo(before+1) != nil {
					break
				}
			}
			filled = 0
			continue
		}

		if tok.Type == scanner.TokenKeyword && tok.Str == "obj" && filled == 2 &&
			window[0].Type == scanner.TokenNumber && window[0].IsInt &&
			window[1].Type == scanner.TokenNumber && window[1].IsInt {
			entries[int(window[0].Int)] = Entry{Kind: EntryInUse, Offset: window[0].Pos, Gen: int(window[1].Int)}
			filled = 0
			continue
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			obj, err := raw.NewParser(s).ParseObject()
			if err == nil {
				if dict, ok := obj.(*raw.DictObj); ok {
					lastTrailer = dict
				}
			}
			filled = 0
			continue
		}

		if filled < 2 {
			window[filled] = tok
			filled++
		} else {
			window[0], window[1] = window[1], tok
		}
	}

	if len(entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}
	if lastTrailer == nil {
		lastTrailer = raw.Dict()
	}
	lastTrailer.Delete("Prev")
	lastTrailer.Delete("XRefStm")
	max := 0
	for num := range entries {
		if num > max {
			max = num
		}
	}
	lastTrailer.Put("Size", raw.NumberInt(int64(max+1)))
	return &table{entries: entries, trailer: lastTrailer, repaired: true}, nil
}
