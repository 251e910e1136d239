package fonts

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"

	gofont "github.com/go-text/typesetting/font"
	"golang.org/x/crypto/blake2b"

	"github.com/wudi/flyerkit/ir/raw"
)

// finish writes the Type0 font, its CIDFontType2 descendant, the subset
// font program and the ToUnicode map into the reserved reference.
func (t *TrueType) finish() error {
	doc := t.doc
	gids := make([]int, 0, len(t.used)+1)
	keep := map[int]bool{0: true}
	for gid := range t.used {
		keep[int(gid)] = true
	}
	for gid := range keep {
		gids = append(gids, gid)
	}
	sort.Ints(gids)

	program, err := SubsetTrueType(t.data, keep)
	if err != nil {
		program = t.data
	}
	baseName := subsetTag(t.name, gids) + "+" + t.name

	fileDict := raw.Dict()
	fileDict.Put("Length1", raw.NumberInt(int64(len(program))))
	fileRef, err := doc.AddStream(fileDict, program)
	if err != nil {
		return fmt.Errorf("font program %s: %w", t.name, err)
	}

	desc := raw.Dict()
	desc.Put("Type", raw.NameLiteral("FontDescriptor"))
	desc.Put("FontName", raw.NameLiteral(baseName))
	desc.Put("Flags", raw.NumberInt(4))
	desc.Put("FontBBox", raw.Numbers(roundMilli(t.bbox[0]), roundMilli(t.bbox[1]), roundMilli(t.bbox[2]), roundMilli(t.bbox[3])))
	desc.Put("ItalicAngle", raw.NumberFloat(t.italicAngle))
	desc.Put("Ascent", raw.NumberFloat(roundMilli(t.ascent)))
	desc.Put("Descent", raw.NumberFloat(roundMilli(t.descent)))
	desc.Put("CapHeight", raw.NumberFloat(roundMilli(t.capHeight)))
	desc.Put("StemV", raw.NumberInt(80))
	desc.Put("FontFile2", raw.RefObj{R: fileRef})
	descRef := doc.Add(desc)

	widths := make(map[int]int, len(gids))
	for _, gid := range gids {
		widths[gid] = int(t.nominal(gofont.GID(gid)))
	}
	sysInfo := raw.Dict()
	sysInfo.Put("Registry", raw.Str([]byte("Adobe")))
	sysInfo.Put("Ordering", raw.Str([]byte("Identity")))
	sysInfo.Put("Supplement", raw.NumberInt(0))

	cid := raw.Dict()
	cid.Put("Type", raw.NameLiteral("Font"))
	cid.Put("Subtype", raw.NameLiteral("CIDFontType2"))
	cid.Put("BaseFont", raw.NameLiteral(baseName))
	cid.Put("CIDSystemInfo", sysInfo)
	cid.Put("FontDescriptor", raw.RefObj{R: descRef})
	cid.Put("DW", raw.NumberInt(int64(widths[0])))
	cid.Put("W", encodeCIDWidths(widths))
	cid.Put("CIDToGIDMap", raw.NameLiteral("Identity"))
	cidRef := doc.Add(cid)

	font := raw.Dict()
	font.Put("Type", raw.NameLiteral("Font"))
	font.Put("Subtype", raw.NameLiteral("Type0"))
	font.Put("BaseFont", raw.NameLiteral(baseName))
	font.Put("Encoding", raw.NameLiteral("Identity-H"))
	font.Put("DescendantFonts", raw.NewArray(raw.RefObj{R: cidRef}))
	if cmap := toUnicodeCMap(baseName, t.used); cmap != nil {
		ref, err := doc.AddStream(nil, cmap)
		if err != nil {
			return fmt.Errorf("tounicode %s: %w", t.name, err)
		}
		font.Put("ToUnicode", raw.RefObj{R: ref})
	}
	doc.Set(t.ref, font)
	return nil
}

// subsetTag derives the six-letter subset prefix from the glyph set so the
// same text always produces the same name.
func subsetTag(name string, gids []int) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(name))
	for _, gid := range gids {
		h.Write([]byte{byte(gid >> 8), byte(gid)})
	}
	sum := h.Sum(nil)
	tag := make([]byte, 6)
	for i := range tag {
		tag[i] = 'A' + sum[i]%26
	}
	return string(tag)
}

// encodeCIDWidths writes runs of consecutive glyphs with equal widths as
// "first last width" triples.
func encodeCIDWidths(widths map[int]int) *raw.ArrayObj {
	arr := raw.NewArray()
	if len(widths) == 0 {
		return arr
	}
	codes := make([]int, 0, len(widths))
	for c := range widths {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	start, prev, current := codes[0], codes[0], widths[codes[0]]
	flush := func() {
		arr.Append(raw.NumberInt(int64(start)))
		arr.Append(raw.NumberInt(int64(prev)))
		arr.Append(raw.NumberInt(int64(current)))
	}
	for _, code := range codes[1:] {
		if w := widths[code]; w == current && code == prev+1 {
			prev = code
			continue
		}
		flush()
		start, prev, current = code, code, widths[code]
	}
	flush()
	return arr
}

func toUnicodeCMap(name string, used map[gofont.GID][]rune) []byte {
	keys := make([]int, 0, len(used))
	for gid, runes := range used {
		if len(runes) > 0 {
			keys = append(keys, int(gid))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Ints(keys)
	var buf bytes.Buffer
	buf.WriteString("/CIDInit /ProcSet findresource begin\n")
	buf.WriteString("12 dict begin\n")
	buf.WriteString("begincmap\n")
	buf.WriteString("/CIDSystemInfo << /Registry (Adobe) /Ordering (UCS) /Supplement 0 >> def\n")
	fmt.Fprintf(&buf, "/CMapName /%s-UTF16 def\n", strings.ReplaceAll(name, " ", ""))
	buf.WriteString("/CMapType 2 def\n")
	buf.WriteString("1 begincodespacerange\n<0000> <FFFF>\nendcodespacerange\n")
	for i := 0; i < len(keys); {
		chunk := min(len(keys)-i, 100)
		fmt.Fprintf(&buf, "%d beginbfchar\n", chunk)
		for _, gid := range keys[i : i+chunk] {
			fmt.Fprintf(&buf, "<%04X> <%s>\n", gid, utf16Hex(used[gofont.GID(gid)]))
		}
		buf.WriteString("endbfchar\n")
		i += chunk
	}
	buf.WriteString("endcmap\n")
	buf.WriteString("CMapName currentdict /CMap defineresource pop\n")
	buf.WriteString("end\nend\n")
	return buf.Bytes()
}

func utf16Hex(runes []rune) string {
	var b strings.Builder
	for _, u := range utf16.Encode(runes) {
		fmt.Fprintf(&b, "%04X", u)
	}
	return b.String()
}
