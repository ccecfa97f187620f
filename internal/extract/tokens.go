package extract

import (
	"strings"

	"github.com/uiforensics/elementcap/internal/protocol"
)

// Absence values per computed-style property. Comparisons are exact-string:
// the browser's computed values are already normalized, so anything fuzzier
// would hide real tokens.
const (
	absentColor   = "rgba(0, 0, 0, 0)"
	absentColorKW = "transparent"
	absentLength  = "0px"
	absentNone    = "none"
	absentOpaque  = "1"
	absentLineHgt = "normal"
)

// Tokens maps a resolved computed-style snapshot into the Token Set,
// applying the omission rules field by field.
func Tokens(style map[string]string) protocol.TokenSet {
	ts := protocol.TokenSet{
		Colors:  []protocol.ColorToken{},
		Fonts:   []protocol.FontToken{},
		Shadows: []string{},
	}

	for _, c := range []struct{ role, prop string }{
		{"foreground", "color"},
		{"background", "background-color"},
		{"border", "border-color"},
	} {
		if v, ok := style[c.prop]; ok && v != "" && v != absentColor && v != absentColorKW {
			ts.Colors = append(ts.Colors, protocol.ColorToken{Role: c.role, Value: v})
		}
	}

	for _, prop := range []string{"font-family", "font-size", "font-weight"} {
		if v := style[prop]; v != "" {
			ts.Fonts = append(ts.Fonts, protocol.FontToken{Property: prop, Value: v})
		}
	}
	if v := style["line-height"]; v != "" && v != absentLineHgt {
		ts.Fonts = append(ts.Fonts, protocol.FontToken{Property: "line-height", Value: v})
	}

	ts.Spacing = protocol.SpacingTokens{
		PaddingTop:    lengthOrZero(style["padding-top"]),
		PaddingRight:  lengthOrZero(style["padding-right"]),
		PaddingBottom: lengthOrZero(style["padding-bottom"]),
		PaddingLeft:   lengthOrZero(style["padding-left"]),
		MarginTop:     lengthOrZero(style["margin-top"]),
		MarginRight:   lengthOrZero(style["margin-right"]),
		MarginBottom:  lengthOrZero(style["margin-bottom"]),
		MarginLeft:    lengthOrZero(style["margin-left"]),
	}

	if v := style["border-radius"]; v != "" && v != absentLength {
		ts.Border.Radius = v
	}
	if v := style["border-width"]; v != "" && v != absentLength {
		ts.Border.Width = v
	}
	if v := style["border-style"]; v != "" && v != absentNone {
		ts.Border.Style = v
	}

	if v := style["box-shadow"]; v != "" && v != absentNone {
		ts.Shadows = splitShadowList(v)
	}

	if v := style["opacity"]; v != "" && v != absentOpaque {
		ts.Opacity = v
	}

	return ts
}

func lengthOrZero(v string) string {
	if v == "" {
		return absentLength
	}
	return v
}

// splitShadowList splits a computed box-shadow value on top-level commas.
// Color functions inside each shadow contain commas of their own, so the
// split has to be parenthesis-aware.
func splitShadowList(v string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range v {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(v[start:i]))
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(v[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
