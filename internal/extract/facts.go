// Package extract turns raw DOM facts reported by the in-page probe into the
// structural and visual bundles carried on the wire. Everything here is pure
// and synchronous; the probe gathers facts once at confirm time and nothing
// is ever recomputed against the live document.
package extract

import "github.com/uiforensics/elementcap/internal/protocol"

// AncestorFacts is one lineage level: identity only, no markup.
type AncestorFacts struct {
	Tag     string   `json:"tag"`
	ID      string   `json:"id"`
	Classes []string `json:"classes"`
}

// SiblingFacts is an immediate sibling including its serialized markup.
type SiblingFacts struct {
	Tag     string   `json:"tag"`
	ID      string   `json:"id"`
	Classes []string `json:"classes"`
	HTML    string   `json:"html"`
}

// ElementFacts is the raw snapshot the confirm probe reads off the frozen
// target. Field names match the probe's JSON output.
type ElementFacts struct {
	Tag                  string            `json:"tag"`
	ID                   string            `json:"id"`
	Classes              []string          `json:"classes"`
	ChildCount           int               `json:"child_count"`
	ChildTags            []string          `json:"child_tags"`
	HasText              bool              `json:"has_text"`
	OnlyChildHasChildren bool              `json:"only_child_has_children"`
	DocumentRoot         bool              `json:"document_root"`
	CrossOrigin          bool              `json:"cross_origin"`
	HTML                 string            `json:"html"`
	PageRect             protocol.Rect     `json:"page_rect"`
	ViewportRect         protocol.Rect     `json:"viewport_rect"`
	Lineage              []AncestorFacts   `json:"lineage"`
	PrevSibling          *SiblingFacts     `json:"prev_sibling"`
	NextSibling          *SiblingFacts     `json:"next_sibling"`
	Style                map[string]string `json:"style"`
	Mutations            int               `json:"mutations"`
}

// PageFacts is the environment snapshot the probe reads alongside the
// element: location plus the raw inputs for library detection.
type PageFacts struct {
	Href       string          `json:"href"`
	Globals    map[string]bool `json:"globals"`
	Attributes map[string]bool `json:"attributes"`
	ScriptSrcs []string        `json:"script_srcs"`
}
