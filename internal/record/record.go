// Package record defines the capture record handed to the dataset store and
// the file-backed store itself. The JSON shape is the external contract:
// consumers parse these exact field names.
package record

import "github.com/uiforensics/elementcap/internal/protocol"

// Meta is the environment block of a record.
type Meta struct {
	Timestamp   string            `json:"timestamp"`
	Domain      string            `json:"domain"`
	Route       string            `json:"route"`
	QueryParams map[string]string `json:"queryParams"`
	Libraries   []string          `json:"libraries"`
}

// Dimensions are the cropped image's pixel dimensions.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Visuals references the cropped image stored next to the record.
type Visuals struct {
	Image      string     `json:"image"`
	Dimensions Dimensions `json:"dimensions"`
}

// Code is the structural block: markup, context and visual tokens.
type Code struct {
	HTML         string            `json:"html"`
	LineageHTML  []string          `json:"lineage_html"`
	SiblingsHTML []string          `json:"siblings_html"`
	Tokens       protocol.TokenSet `json:"tokens"`
}

// Semantics is the derived interpretation block.
type Semantics struct {
	AtomicLevel        string         `json:"atomic_level"`
	Inventory          map[string]int `json:"inventory"`
	CompositionTree    string         `json:"composition_tree"`
	InteractionPattern string         `json:"interaction_pattern"`
	DesignPattern      string         `json:"design_pattern"`
	State              string         `json:"state"`
	EventListeners     []string       `json:"event_listeners"`
}

// CaptureRecord is the assembled artifact. Stale is a best-effort warning
// that the document mutated between confirm and capture; it never blocks
// saving.
type CaptureRecord struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Stale     bool      `json:"stale,omitempty"`
	Meta      Meta      `json:"meta"`
	Visuals   Visuals   `json:"visuals"`
	Code      Code      `json:"code"`
	Semantics Semantics `json:"semantics"`
}
