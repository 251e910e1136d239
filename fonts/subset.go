package fonts

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// subsetTables are the tables a CIDFontType2 program needs. The layout
// tables are dropped: codes are glyph ids and shaping already ran.
var subsetTables = []string{"head", "hhea", "maxp", "hmtx", "loca", "glyf", "cmap", "name", "OS/2", "post", "cvt ", "fpgm", "prep", "gasp"}

// SubsetTrueType keeps the outlines of the used glyphs (and the components
// of composite glyphs) and empties every other glyph. Glyph ids are
// preserved so Identity-H codes stay valid. Fonts without glyf outlines are
// returned unchanged.
func SubsetTrueType(data []byte, used map[int]bool) ([]byte, error) {
	p := &ttParser{data: data}
	if err := p.parseDirectory(); err != nil {
		return nil, err
	}
	for _, tag := range []string{"glyf", "loca", "head", "maxp", "hmtx", "hhea"} {
		if !p.hasTable(tag) {
			return data, nil
		}
	}

	head, err := p.readTable("head")
	if err != nil {
		return nil, err
	}
	maxp, err := p.readTable("maxp")
	if err != nil {
		return nil, err
	}
	if len(head) < 54 || len(maxp) < 6 {
		return nil, fmt.Errorf("head or maxp truncated")
	}
	longLoca := int16(binary.BigEndian.Uint16(head[50:52])) != 0
	numGlyphs := int(binary.BigEndian.Uint16(maxp[4:6]))

	keep := map[int]bool{0: true}
	for gid := range used {
		if gid >= 0 && gid < numGlyphs {
			keep[gid] = true
		}
	}
	loca, err := p.readTable("loca")
	if err != nil {
		return nil, err
	}
	glyf, err := p.readTable("glyf")
	if err != nil {
		return nil, err
	}
	need := (numGlyphs + 1) * 2
	if longLoca {
		need *= 2
	}
	if len(loca) < need {
		return nil, fmt.Errorf("loca truncated")
	}
	g := glyphTable{loca: loca, glyf: glyf, long: longLoca}
	g.closure(keep, numGlyphs)

	last := 0
	for gid := range keep {
		if gid > last {
			last = gid
		}
	}
	n := last + 1

	newGlyf, newLoca := g.rebuild(keep, n)
	newHmtx, err := p.rebuildHmtx(n)
	if err != nil {
		return nil, err
	}

	w := &ttWriter{}
	for _, tag := range subsetTables {
		var tbl []byte
		switch tag {
		case "glyf":
			tbl = newGlyf
		case "loca":
			tbl = newLoca
		case "hmtx":
			tbl = newHmtx
		default:
			if !p.hasTable(tag) {
				continue
			}
			src, err := p.readTable(tag)
			if err != nil {
				return nil, err
			}
			tbl = append([]byte(nil), src...)
		}
		switch tag {
		case "head":
			// loca is always rewritten in the long format.
			binary.BigEndian.PutUint16(tbl[50:], 1)
		case "maxp":
			binary.BigEndian.PutUint16(tbl[4:], uint16(n))
		case "hhea":
			if len(tbl) >= 36 {
				binary.BigEndian.PutUint16(tbl[34:], uint16(n))
			}
		}
		w.addTable(tag, tbl)
	}
	return w.bytes(), nil
}

type ttParser struct {
	data   []byte
	tables map[string]tableEntry
}

type tableEntry struct {
	offset uint32
	length uint32
}

func (p *ttParser) parseDirectory() error {
	if len(p.data) < 12 {
		return fmt.Errorf("invalid font header")
	}
	numTables := int(binary.BigEndian.Uint16(p.data[4:6]))
	p.tables = make(map[string]tableEntry, numTables)
	for i, off := 0, 12; i < numTables; i, off = i+1, off+16 {
		if off+16 > len(p.data) {
			return fmt.Errorf("table directory truncated")
		}
		p.tables[string(p.data[off:off+4])] = tableEntry{
			offset: binary.BigEndian.Uint32(p.data[off+8 : off+12]),
			length: binary.BigEndian.Uint32(p.data[off+12 : off+16]),
		}
	}
	return nil
}

func (p *ttParser) hasTable(tag string) bool {
	_, ok := p.tables[tag]
	return ok
}

func (p *ttParser) readTable(tag string) ([]byte, error) {
	e, ok := p.tables[tag]
	if !ok {
		return nil, fmt.Errorf("table %s not found", tag)
	}
	end := uint64(e.offset) + uint64(e.length)
	if end > uint64(len(p.data)) {
		return nil, fmt.Errorf("table %s out of bounds", tag)
	}
	return p.data[e.offset:end], nil
}

// rebuildHmtx writes one explicit metric per glyph; hhea is patched to match.
func (p *ttParser) rebuildHmtx(numGlyphs int) ([]byte, error) {
	hhea, err := p.readTable("hhea")
	if err != nil {
		return nil, err
	}
	if len(hhea) < 36 {
		return nil, fmt.Errorf("hhea truncated")
	}
	hmtx, err := p.readTable("hmtx")
	if err != nil {
		return nil, err
	}
	numMetrics := int(binary.BigEndian.Uint16(hhea[34:36]))
	if numMetrics == 0 || len(hmtx) < numMetrics*4 {
		return nil, fmt.Errorf("hmtx truncated")
	}
	out := make([]byte, 0, numGlyphs*4)
	for gid := 0; gid < numGlyphs; gid++ {
		var adv, lsb uint16
		if gid < numMetrics {
			adv = binary.BigEndian.Uint16(hmtx[gid*4:])
			lsb = binary.BigEndian.Uint16(hmtx[gid*4+2:])
		} else {
			adv = binary.BigEndian.Uint16(hmtx[(numMetrics-1)*4:])
			if off := numMetrics*4 + (gid-numMetrics)*2; off+2 <= len(hmtx) {
				lsb = binary.BigEndian.Uint16(hmtx[off:])
			}
		}
		out = binary.BigEndian.AppendUint16(out, adv)
		out = binary.BigEndian.AppendUint16(out, lsb)
	}
	return out, nil
}

type glyphTable struct {
	loca, glyf []byte
	long       bool
}

func (g glyphTable) span(gid int) (start, end uint32) {
	if g.long {
		start, end = binary.BigEndian.Uint32(g.loca[gid*4:]), binary.BigEndian.Uint32(g.loca[gid*4+4:])
	} else {
		start, end = uint32(binary.BigEndian.Uint16(g.loca[gid*2:]))*2, uint32(binary.BigEndian.Uint16(g.loca[gid*2+2:]))*2
	}
	if start > end || end > uint32(len(g.glyf)) {
		return 0, 0
	}
	return start, end
}

// closure adds the components of composite glyphs to keep.
func (g glyphTable) closure(keep map[int]bool, numGlyphs int) {
	queue := make([]int, 0, len(keep))
	for gid := range keep {
		queue = append(queue, gid)
	}
	for len(queue) > 0 {
		gid := queue[0]
		queue = queue[1:]
		start, end := g.span(gid)
		if end-start < 10 || int16(binary.BigEndian.Uint16(g.glyf[start:])) >= 0 {
			continue
		}
		for off := start + 10; off+4 <= end; {
			flags := binary.BigEndian.Uint16(g.glyf[off:])
			sub := int(binary.BigEndian.Uint16(g.glyf[off+2:]))
			if sub < numGlyphs && !keep[sub] {
				keep[sub] = true
				queue = append(queue, sub)
			}
			off += 4
			if flags&0x0001 != 0 { // ARG_1_AND_2_ARE_WORDS
				off += 4
			} else {
				off += 2
			}
			switch {
			case flags&0x0008 != 0: // WE_HAVE_A_SCALE
				off += 2
			case flags&0x0040 != 0: // WE_HAVE_AN_X_AND_Y_SCALE
				off += 4
			case flags&0x0080 != 0: // WE_HAVE_A_TWO_BY_TWO
				off += 8
			}
			if flags&0x0020 == 0 { // MORE_COMPONENTS
				break
			}
		}
	}
}

// rebuild copies kept outlines into a new glyf table with a long loca.
// Glyph records stay 4-byte aligned.
func (g glyphTable) rebuild(keep map[int]bool, numGlyphs int) (glyf, loca []byte) {
	var out bytes.Buffer
	loca = make([]byte, 0, (numGlyphs+1)*4)
	for gid := 0; gid < numGlyphs; gid++ {
		loca = binary.BigEndian.AppendUint32(loca, uint32(out.Len()))
		if !keep[gid] {
			continue
		}
		start, end := g.span(gid)
		out.Write(g.glyf[start:end])
		for out.Len()%4 != 0 {
			out.WriteByte(0)
		}
	}
	loca = binary.BigEndian.AppendUint32(loca, uint32(out.Len()))
	return out.Bytes(), loca
}

type ttWriter struct {
	tables []tableData
}

type tableData struct {
	tag  string
	data []byte
}

func (w *ttWriter) addTable(tag string, data []byte) {
	w.tables = append(w.tables, tableData{tag, data})
}

// bytes lays out the font with sorted tags, padded tables and a fixed-up
// head checkSumAdjustment.
func (w *ttWriter) bytes() []byte {
	sort.Slice(w.tables, func(i, j int) bool { return w.tables[i].tag < w.tables[j].tag })
	numTables := len(w.tables)
	entrySelector := 0
	for (1 << (entrySelector + 1)) <= numTables {
		entrySelector++
	}
	searchRange := (1 << entrySelector) * 16

	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x01, 0x00, 0x00})
	binary.Write(&buf, binary.BigEndian, uint16(numTables))
	binary.Write(&buf, binary.BigEndian, uint16(searchRange))
	binary.Write(&buf, binary.BigEndian, uint16(entrySelector))
	binary.Write(&buf, binary.BigEndian, uint16(numTables*16-searchRange))

	headAt := -1
	offset := 12 + 16*numTables
	for _, t := range w.tables {
		if t.tag == "head" && len(t.data) >= 12 {
			headAt = offset
			binary.BigEndian.PutUint32(t.data[8:], 0)
		}
		buf.WriteString(t.tag)
		binary.Write(&buf, binary.BigEndian, calcChecksum(t.data))
		binary.Write(&buf, binary.BigEndian, uint32(offset))
		binary.Write(&buf, binary.BigEndian, uint32(len(t.data)))
		offset += (len(t.data) + 3) &^ 3
	}
	for _, t := range w.tables {
		buf.Write(t.data)
		for pad := (4 - len(t.data)%4) % 4; pad > 0; pad-- {
			buf.WriteByte(0)
		}
	}
	out := buf.Bytes()
	if headAt >= 0 {
		binary.BigEndian.PutUint32(out[headAt+8:], 0xB1B0AFBA-calcChecksum(out))
	}
	return out
}

func calcChecksum(data []byte) uint32 {
	var sum uint32
	for i := 0; i < len(data); i += 4 {
		var word [4]byte
		copy(word[:], data[i:])
		sum += binary.BigEndian.Uint32(word[:])
	}
	return sum
}
