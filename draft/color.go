package draft

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is an sRGB color with straight alpha in [0,1].
type Color struct {
	R, G, B uint8
	A       float64
}

// RGB returns the components scaled to [0,1] for content stream operators.
func (c Color) RGB() (r, g, b float64) {
	return float64(c.R) / 255, float64(c.G) / 255, float64(c.B) / 255
}

// Transparent reports whether painting c would leave no mark.
func (c Color) Transparent() bool { return c.A <= 0 }

var namedColors = map[string]Color{
	"black": {0, 0, 0, 1},
	"white": {255, 255, 255, 1},
	"red":   {255, 0, 0, 1},
	"green": {0, 128, 0, 1},
	"blue":  {0, 0, 255, 1},
	"gray":  {128, 128, 128, 1},
	"grey":  {128, 128, 128, 1},
}

// ParseColor accepts #rgb, #rrggbb, #rrggbbaa, rgb(), rgba(), a few CSS
// names and "transparent".
func ParseColor(s string) (Color, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "" || s == "none" || s == "transparent":
		return Color{}, nil
	case strings.HasPrefix(s, "#"):
		return parseHex(s[1:])
	case strings.HasPrefix(s, "rgb"):
		return parseFunc(s)
	}
	if c, ok := namedColors[s]; ok {
		return c, nil
	}
	return Color{}, fmt.Errorf("unrecognized color %q", s)
}

func parseHex(h string) (Color, error) {
	if len(h) == 3 || len(h) == 4 {
		var b strings.Builder
		for _, r := range h {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		h = b.String()
	}
	if len(h) != 6 && len(h) != 8 {
		return Color{}, fmt.Errorf("bad hex color #%s", h)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("bad hex color #%s", h)
	}
	if len(h) == 6 {
		return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 1}, nil
	}
	return Color{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: float64(uint8(v)) / 255}, nil
}

func parseFunc(s string) (Color, error) {
	open, end := strings.IndexByte(s, '('), strings.LastIndexByte(s, ')')
	if open < 0 || end < open {
		return Color{}, fmt.Errorf("bad color %q", s)
	}
	parts := strings.FieldsFunc(s[open+1:end], func(r rune) bool { return r == ',' || r == ' ' || r == '/' })
	if len(parts) != 3 && len(parts) != 4 {
		return Color{}, fmt.Errorf("bad color %q", s)
	}
	var ch [3]uint8
	for i := 0; i < 3; i++ {
		v, err := parseChannel(parts[i])
		if err != nil {
			return Color{}, fmt.Errorf("bad color %q: %w", s, err)
		}
		ch[i] = v
	}
	c := Color{R: ch[0], G: ch[1], B: ch[2], A: 1}
	if len(parts) == 4 {
		a, err := parseAlpha(parts[3])
		if err != nil {
			return Color{}, fmt.Errorf("bad color %q: %w", s, err)
		}
		c.A = a
	}
	return c, nil
}

func parseChannel(p string) (uint8, error) {
	if strings.HasSuffix(p, "%") {
		f, err := strconv.ParseFloat(strings.TrimSuffix(p, "%"), 64)
		if err != nil {
			return 0, err
		}
		return uint8(clamp(f, 0, 100) * 255 / 100), nil
	}
	f, err := strconv.ParseFloat(p, 64)
	if err != nil {
		return 0, err
	}
	return uint8(clamp(f, 0, 255)), nil
}

func parseAlpha(p string) (float64, error) {
	if strings.HasSuffix(p, "%") {
		f, err := strconv.ParseFloat(strings.TrimSuffix(p, "%"), 64)
		return clamp(f/100, 0, 1), err
	}
	f, err := strconv.ParseFloat(p, 64)
	return clamp(f, 0, 1), err
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
