package fonts

import (
	"unicode"

	"github.com/go-text/typesetting/di"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	"golang.org/x/image/math/fixed"
)

// ShapedGlyph is one shaped glyph, positioned in thousandths of an em.
type ShapedGlyph struct {
	ID       int
	Cluster  int
	XAdvance float64
	XOffset  float64
	YOffset  float64
	// Runes is the source text of the glyph's cluster; empty for the
	// trailing glyphs of a multi-glyph cluster.
	Runes []rune
}

// shapingSize makes one em 1000 units so advances come out in text space.
const shapingSize = fixed.Int26_6(1000 * 64)

// Shape runs the HarfBuzz shaper over text.
func (t *TrueType) Shape(text string) []ShapedGlyph {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	script := DetectScript(runes)
	out := (&shaping.HarfbuzzShaper{}).Shape(shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: scriptDirection(script),
		Face:      t.face,
		Size:      shapingSize,
		Script:    script,
		Language:  language.DefaultLanguage(),
	})

	glyphs := make([]ShapedGlyph, 0, len(out.Glyphs))
	seen := make(map[int]bool)
	for _, g := range out.Glyphs {
		sg := ShapedGlyph{
			ID:       int(g.GlyphID),
			Cluster:  g.ClusterIndex,
			XAdvance: float64(g.XAdvance) / 64,
			XOffset:  float64(g.XOffset) / 64,
			YOffset:  float64(g.YOffset) / 64,
		}
		if !seen[g.ClusterIndex] {
			seen[g.ClusterIndex] = true
			end := g.ClusterIndex + g.RuneCount
			if g.RuneCount <= 0 || end > len(runes) {
				end = g.ClusterIndex + 1
			}
			if g.ClusterIndex >= 0 && end <= len(runes) {
				sg.Runes = runes[g.ClusterIndex:end]
			}
		}
		glyphs = append(glyphs, sg)
	}
	return glyphs
}

func scriptDirection(script language.Script) di.Direction {
	switch script {
	case language.Arabic, language.Hebrew, language.Syriac, language.Thaana, language.Nko:
		return di.DirectionRTL
	default:
		return di.DirectionLTR
	}
}

// DetectScript returns the script most runes belong to; ties keep the
// script seen first. Text with no letters is Latin.
func DetectScript(runes []rune) language.Script {
	counts := make(map[language.Script]int)
	maxCount := 0
	best := language.Latin
	for _, r := range runes {
		script := scriptFromRune(r)
		if script == language.Unknown {
			continue
		}
		counts[script]++
		if counts[script] > maxCount {
			maxCount = counts[script]
			best = script
		}
	}
	return best
}

func scriptFromRune(r rune) language.Script {
	switch {
	case unicode.Is(unicode.Latin, r):
		return language.Latin
	case unicode.Is(unicode.Arabic, r):
		return language.Arabic
	case unicode.Is(unicode.Hebrew, r):
		return language.Hebrew
	case unicode.Is(unicode.Cyrillic, r):
		return language.Cyrillic
	case unicode.Is(unicode.Greek, r):
		return language.Greek
	case unicode.Is(unicode.Thai, r):
		return language.Thai
	case unicode.Is(unicode.Devanagari, r):
		return language.Devanagari
	case unicode.Is(unicode.Han, r):
		return language.Han
	case unicode.Is(unicode.Hiragana, r):
		return language.Hiragana
	case unicode.Is(unicode.Katakana, r):
		return language.Katakana
	case unicode.Is(unicode.Hangul, r):
		return language.Hangul
	}
	return language.Unknown
}
