package protocol

// StructuralClass is the heuristic atomic-design classification of a target.
type StructuralClass string

const (
	ClassAtom     StructuralClass = "atom"
	ClassMolecule StructuralClass = "molecule"
	ClassOrganism StructuralClass = "organism"
	ClassTemplate StructuralClass = "template"
	ClassPage     StructuralClass = "page"
)

// Rect is an axis-aligned rectangle in CSS pixels.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// NodeRef identifies an element by tag, class list and id without markup.
type NodeRef struct {
	Tag     string   `json:"tag"`
	Classes []string `json:"classes,omitempty"`
	ID      string   `json:"id,omitempty"`
}

// SiblingRef is a NodeRef plus the sibling's serialized markup.
type SiblingRef struct {
	NodeRef
	HTML string `json:"html"`
}

// TargetDescriptor is the immutable snapshot of the confirmed element taken
// at confirm time. Page and viewport rects are both carried because the
// screenshot is viewport-relative while layout math is page-relative.
type TargetDescriptor struct {
	Tag          string          `json:"tag"`
	Classes      []string        `json:"classes,omitempty"`
	ID           string          `json:"id,omitempty"`
	PageRect     Rect            `json:"page_rect"`
	ViewportRect Rect            `json:"viewport_rect"`
	Class        StructuralClass `json:"structural_class"`
}

// ColorToken is a non-transparent color fact. Role is one of
// "foreground", "background", "border".
type ColorToken struct {
	Role  string `json:"role"`
	Value string `json:"value"`
}

// FontToken is a typography fact keyed by CSS property name.
type FontToken struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

// SpacingTokens carries all four padding and margin sides. Always present;
// absent sides default to a zero length.
type SpacingTokens struct {
	PaddingTop    string `json:"padding_top"`
	PaddingRight  string `json:"padding_right"`
	PaddingBottom string `json:"padding_bottom"`
	PaddingLeft   string `json:"padding_left"`
	MarginTop     string `json:"margin_top"`
	MarginRight   string `json:"margin_right"`
	MarginBottom  string `json:"margin_bottom"`
	MarginLeft    string `json:"margin_left"`
}

// BorderTokens carries border facts; each field is omitted when its source
// value equals the documented absence value (zero length or "none").
type BorderTokens struct {
	Radius string `json:"radius,omitempty"`
	Width  string `json:"width,omitempty"`
	Style  string `json:"style,omitempty"`
}

// TokenSet is the normalized visual-fact payload of a Code Bundle.
// Opacity is omitted when the resolved value is fully opaque.
type TokenSet struct {
	Colors  []ColorToken  `json:"colors"`
	Fonts   []FontToken   `json:"fonts"`
	Spacing SpacingTokens `json:"spacing"`
	Border  BorderTokens  `json:"border"`
	Shadows []string      `json:"shadows"`
	Opacity string        `json:"opacity,omitempty"`
}

// CodeBundle is the serialized structural context of the target, computed
// once at confirm time and never recomputed.
type CodeBundle struct {
	HTML        string      `json:"html"`
	Lineage     []NodeRef   `json:"lineage"`
	PrevSibling *SiblingRef `json:"prev_sibling,omitempty"`
	NextSibling *SiblingRef `json:"next_sibling,omitempty"`
	Tokens      TokenSet    `json:"tokens"`
}

// MetaBundle is the environment snapshot taken at confirm time.
type MetaBundle struct {
	Timestamp   string            `json:"timestamp"`
	Domain      string            `json:"domain"`
	Route       string            `json:"route"`
	QueryParams map[string]string `json:"query_params"`
	Libraries   []string          `json:"libraries"`
	Mutations   int               `json:"mutations,omitempty"`
}
