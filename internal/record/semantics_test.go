package record

import (
	"reflect"
	"testing"

	"github.com/uiforensics/elementcap/internal/protocol"
)

func TestDeriveSemanticsCard(t *testing.T) {
	target := protocol.TargetDescriptor{
		Tag:     "div",
		Classes: []string{"product-card"},
		Class:   protocol.ClassMolecule,
	}
	code := protocol.CodeBundle{
		HTML: `<div class="product-card"><img src="p.jpg"><h3>Name</h3><p>Desc</p><button onclick="add()">Add</button></div>`,
	}

	sem := DeriveSemantics(target, code)

	if sem.AtomicLevel != "molecule" {
		t.Errorf("atomic_level = %q", sem.AtomicLevel)
	}
	wantInv := map[string]int{"div": 1, "img": 1, "h3": 1, "p": 1, "button": 1}
	if !reflect.DeepEqual(sem.Inventory, wantInv) {
		t.Errorf("inventory = %v, want %v", sem.Inventory, wantInv)
	}
	if sem.CompositionTree != "div > [img, h3, p, button]" {
		t.Errorf("composition_tree = %q", sem.CompositionTree)
	}
	if !reflect.DeepEqual(sem.EventListeners, []string{"click"}) {
		t.Errorf("event_listeners = %v", sem.EventListeners)
	}
	// div is not interactive by tag but carries an inline handler.
	if sem.InteractionPattern != "scripted" {
		t.Errorf("interaction_pattern = %q", sem.InteractionPattern)
	}
	if sem.DesignPattern != "card" {
		t.Errorf("design_pattern = %q", sem.DesignPattern)
	}
	if sem.State != "default" {
		t.Errorf("state = %q", sem.State)
	}
}

func TestDeriveSemanticsInteractionByTag(t *testing.T) {
	cases := []struct {
		tag  string
		html string
		want string
	}{
		{"a", `<a href="/x">go</a>`, "navigation"},
		{"button", `<button>ok</button>`, "action"},
		{"input", `<input type="text">`, "form-input"},
		{"form", `<form><input></form>`, "form-submit"},
		{"video", `<video src="v.mp4"></video>`, "media"},
		{"span", `<span>plain</span>`, "display"},
	}
	for _, tc := range cases {
		sem := DeriveSemantics(
			protocol.TargetDescriptor{Tag: tc.tag, Class: protocol.ClassAtom},
			protocol.CodeBundle{HTML: tc.html},
		)
		if sem.InteractionPattern != tc.want {
			t.Errorf("%s: interaction_pattern = %q, want %q", tc.tag, sem.InteractionPattern, tc.want)
		}
	}
}

func TestDeriveSemanticsState(t *testing.T) {
	cases := []struct {
		name string
		html string
		want string
	}{
		{"disabled attr", `<button disabled>ok</button>`, "disabled"},
		{"hidden attr", `<div hidden>x</div>`, "hidden"},
		{"expanded", `<div aria-expanded="true">x</div>`, "expanded"},
		{"active class", `<li class="item active">x</li>`, "active"},
		{"plain", `<p>x</p>`, "default"},
	}
	for _, tc := range cases {
		sem := DeriveSemantics(
			protocol.TargetDescriptor{Tag: "div", Class: protocol.ClassAtom},
			protocol.CodeBundle{HTML: tc.html},
		)
		if sem.State != tc.want {
			t.Errorf("%s: state = %q, want %q", tc.name, sem.State, tc.want)
		}
	}
}

func TestDeriveSemanticsCompositionDepthCapped(t *testing.T) {
	html := `<section><div><ul><li><span>deep</span></li></ul></div></section>`
	sem := DeriveSemantics(
		protocol.TargetDescriptor{Tag: "section", Class: protocol.ClassOrganism},
		protocol.CodeBundle{HTML: html},
	)
	// Depth 3: section, div, ul; li and below are cut off.
	if sem.CompositionTree != "section > [div > [ul]]" {
		t.Errorf("composition_tree = %q", sem.CompositionTree)
	}
	if sem.Inventory["span"] != 1 {
		t.Errorf("inventory misses deep span: %v", sem.Inventory)
	}
}

func TestDeriveSemanticsUnparseableMarkup(t *testing.T) {
	sem := DeriveSemantics(
		protocol.TargetDescriptor{Tag: "div", Class: protocol.ClassAtom},
		protocol.CodeBundle{HTML: "   "},
	)
	if sem.CompositionTree != "div" {
		t.Errorf("composition_tree = %q", sem.CompositionTree)
	}
	if len(sem.Inventory) != 0 || len(sem.EventListeners) != 0 {
		t.Errorf("empty markup produced facts: %+v", sem)
	}
	if sem.State != "default" || sem.InteractionPattern != "display" {
		t.Errorf("defaults wrong: %+v", sem)
	}
}

func TestBuildAssemblesRecord(t *testing.T) {
	sel := protocol.SelectionPayload{
		Target: protocol.TargetDescriptor{
			Tag:     "button",
			Classes: []string{"cta"},
			Class:   protocol.ClassAtom,
		},
		Code: protocol.CodeBundle{
			HTML: `<button class="cta">Go</button>`,
			Lineage: []protocol.NodeRef{
				{Tag: "div", Classes: []string{"actions"}},
				{Tag: "form", ID: "checkout"},
			},
			PrevSibling: &protocol.SiblingRef{
				NodeRef: protocol.NodeRef{Tag: "input"},
				HTML:    `<input type="email">`,
			},
		},
		Meta: protocol.MetaBundle{
			Timestamp: "2026-03-14T09:30:00Z",
			Domain:    "shop.example",
			Route:     "/checkout",
			Libraries: []string{"React"},
		},
	}

	rec := Build("3b7f8a9c-1d2e-4f5a-8b9c-0d1e2f3a4b5c", sel, 200, 100, true)

	if rec.Label != "button.cta" {
		t.Errorf("label = %q", rec.Label)
	}
	if !rec.Stale {
		t.Error("stale flag dropped")
	}
	if rec.Visuals.Image != "3b7f8a9c-1d2e-4f5a-8b9c-0d1e2f3a4b5c.png" {
		t.Errorf("image = %q", rec.Visuals.Image)
	}
	if rec.Visuals.Dimensions.Width != 200 || rec.Visuals.Dimensions.Height != 100 {
		t.Errorf("dimensions = %+v", rec.Visuals.Dimensions)
	}
	wantLineage := []string{`<div class="actions">`, `<form id="checkout">`}
	if !reflect.DeepEqual(rec.Code.LineageHTML, wantLineage) {
		t.Errorf("lineage_html = %v", rec.Code.LineageHTML)
	}
	if !reflect.DeepEqual(rec.Code.SiblingsHTML, []string{`<input type="email">`}) {
		t.Errorf("siblings_html = %v", rec.Code.SiblingsHTML)
	}
	if rec.Semantics.AtomicLevel != "atom" || rec.Semantics.InteractionPattern != "action" {
		t.Errorf("semantics = %+v", rec.Semantics)
	}
	if rec.Meta.Domain != "shop.example" || rec.Meta.Timestamp != "2026-03-14T09:30:00Z" {
		t.Errorf("meta = %+v", rec.Meta)
	}
}
