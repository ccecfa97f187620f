package record

import (
	"github.com/uiforensics/elementcap/internal/extract"
	"github.com/uiforensics/elementcap/internal/protocol"
)

// Build assembles a record from a frozen selection and its cropped image.
// The image file name is derived from the record ID; the store writes the
// bytes next to the JSON under that name.
func Build(id string, sel protocol.SelectionPayload, width, height int, stale bool) CaptureRecord {
	siblings := make([]string, 0, 2)
	if sel.Code.PrevSibling != nil {
		siblings = append(siblings, sel.Code.PrevSibling.HTML)
	}
	if sel.Code.NextSibling != nil {
		siblings = append(siblings, sel.Code.NextSibling.HTML)
	}

	lineage := make([]string, 0, len(sel.Code.Lineage))
	for _, ref := range sel.Code.Lineage {
		lineage = append(lineage, extract.OpeningTag(ref))
	}

	return CaptureRecord{
		ID:    id,
		Label: extract.Label(sel.Target),
		Stale: stale,
		Meta: Meta{
			Timestamp:   sel.Meta.Timestamp,
			Domain:      sel.Meta.Domain,
			Route:       sel.Meta.Route,
			QueryParams: sel.Meta.QueryParams,
			Libraries:   sel.Meta.Libraries,
		},
		Visuals: Visuals{
			Image:      id + ".png",
			Dimensions: Dimensions{Width: width, Height: height},
		},
		Code: Code{
			HTML:         sel.Code.HTML,
			LineageHTML:  lineage,
			SiblingsHTML: siblings,
			Tokens:       sel.Code.Tokens,
		},
		Semantics: DeriveSemantics(sel.Target, sel.Code),
	}
}
