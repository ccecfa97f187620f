package extract

import (
	"strings"
	"time"

	"github.com/uiforensics/elementcap/internal/protocol"
)

// lineageCap bounds the ancestor walk so payloads stay small.
const lineageCap = 3

// Resolve assembles the three wire bundles from the probe's raw facts.
// Called exactly once per confirmed selection.
func Resolve(f ElementFacts, page PageFacts, probes []LibraryProbe, now time.Time) protocol.SelectionPayload {
	td := protocol.TargetDescriptor{
		Tag:          f.Tag,
		Classes:      f.Classes,
		ID:           f.ID,
		PageRect:     f.PageRect,
		ViewportRect: f.ViewportRect,
		Class:        Classify(f),
	}

	code := protocol.CodeBundle{
		HTML:        f.HTML,
		Lineage:     Lineage(f.Lineage),
		PrevSibling: sibling(f.PrevSibling),
		NextSibling: sibling(f.NextSibling),
		Tokens:      Tokens(f.Style),
	}

	loc := ParseLocation(page.Href)
	meta := protocol.MetaBundle{
		Timestamp:   now.UTC().Format(time.RFC3339),
		Domain:      loc.Domain,
		Route:       loc.Route,
		QueryParams: loc.QueryParams,
		Libraries:   DetectLibraries(probes, page),
		Mutations:   f.Mutations,
	}

	return protocol.SelectionPayload{Target: td, Code: code, Meta: meta}
}

// Lineage converts raw ancestor facts into NodeRefs, enforcing the cap even
// if the probe over-reports.
func Lineage(raw []AncestorFacts) []protocol.NodeRef {
	out := make([]protocol.NodeRef, 0, lineageCap)
	for _, a := range raw {
		if len(out) == lineageCap {
			break
		}
		out = append(out, protocol.NodeRef{Tag: a.Tag, Classes: a.Classes, ID: a.ID})
	}
	return out
}

func sibling(s *SiblingFacts) *protocol.SiblingRef {
	if s == nil {
		return nil
	}
	return &protocol.SiblingRef{
		NodeRef: protocol.NodeRef{Tag: s.Tag, Classes: s.Classes, ID: s.ID},
		HTML:    s.HTML,
	}
}

// OpeningTag renders a NodeRef as a bare opening tag, the exported
// representation of a lineage level (identity only, no markup).
func OpeningTag(ref protocol.NodeRef) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(ref.Tag)
	if ref.ID != "" {
		b.WriteString(` id="`)
		b.WriteString(ref.ID)
		b.WriteByte('"')
	}
	if len(ref.Classes) > 0 {
		b.WriteString(` class="`)
		b.WriteString(strings.Join(ref.Classes, " "))
		b.WriteByte('"')
	}
	b.WriteByte('>')
	return b.String()
}

// Label derives a short human label for a target: tag plus its first class,
// falling back to the id, falling back to the bare tag.
func Label(td protocol.TargetDescriptor) string {
	if len(td.Classes) > 0 {
		return td.Tag + "." + td.Classes[0]
	}
	if td.ID != "" {
		return td.Tag + "#" + td.ID
	}
	return td.Tag
}
