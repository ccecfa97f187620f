package extract

import "github.com/uiforensics/elementcap/internal/protocol"

// templateTags are whole-document scaffolding tags classified as Template.
var templateTags = map[string]bool{
	"body":     true,
	"frameset": true,
}

// atomicTags are tags treated as indivisible even without text content.
var atomicTags = map[string]bool{
	"a": true, "audio": true, "br": true, "button": true, "canvas": true,
	"hr": true, "iframe": true, "img": true, "input": true, "label": true,
	"picture": true, "select": true, "svg": true, "textarea": true,
	"video": true,
}

// landmarkTags are sectioning landmarks classified as Organism.
var landmarkTags = map[string]bool{
	"header": true, "nav": true, "main": true, "article": true,
	"section": true, "aside": true, "footer": true,
}

// Classify maps an element snapshot to its structural class. The rules are
// evaluated top to bottom, first match wins; reordering them changes the
// result for real documents, so keep the order.
func Classify(f ElementFacts) protocol.StructuralClass {
	if f.DocumentRoot {
		return protocol.ClassPage
	}
	if templateTags[f.Tag] {
		return protocol.ClassTemplate
	}
	if f.ChildCount == 0 && (f.HasText || atomicTags[f.Tag]) {
		return protocol.ClassAtom
	}
	if landmarkTags[f.Tag] {
		return protocol.ClassOrganism
	}
	if f.ChildCount >= 5 {
		return protocol.ClassOrganism
	}
	if f.ChildCount >= 2 && distinctTags(f.ChildTags) >= 2 {
		return protocol.ClassMolecule
	}
	if f.ChildCount == 1 {
		if f.OnlyChildHasChildren {
			return protocol.ClassMolecule
		}
		return protocol.ClassAtom
	}
	return protocol.ClassAtom
}

func distinctTags(tags []string) int {
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		seen[t] = true
	}
	return len(seen)
}
