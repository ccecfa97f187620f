package record

import (
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/uiforensics/elementcap/internal/protocol"
)

const compositionDepth = 3

// interactionByTag maps interactive tags to their interaction pattern.
// Anything else is display-only unless it carries inline handlers.
var interactionByTag = map[string]string{
	"a":        "navigation",
	"button":   "action",
	"input":    "form-input",
	"select":   "form-input",
	"textarea": "form-input",
	"form":     "form-submit",
	"audio":    "media",
	"video":    "media",
	"details":  "disclosure",
	"summary":  "disclosure",
	"label":    "form-input",
}

// designPatterns is checked in order against the class names found in the
// captured markup; first hit wins.
var designPatterns = []struct {
	needle  string
	pattern string
}{
	{"modal", "modal"},
	{"dialog", "modal"},
	{"nav", "navigation"},
	{"card", "card"},
	{"hero", "hero"},
	{"banner", "hero"},
	{"breadcrumb", "breadcrumb"},
	{"accordion", "accordion"},
	{"carousel", "carousel"},
	{"dropdown", "dropdown"},
	{"tab", "tabs"},
	{"badge", "badge"},
	{"avatar", "avatar"},
	{"toast", "toast"},
	{"tooltip", "tooltip"},
	{"footer", "footer"},
	{"header", "header"},
	{"sidebar", "sidebar"},
	{"grid", "collection"},
	{"list", "collection"},
	{"table", "collection"},
	{"form", "form"},
	{"btn", "button"},
	{"button", "button"},
}

// DeriveSemantics interprets the captured markup. Everything here is a
// heuristic over the frozen snapshot; unparseable markup degrades to a
// minimal block rather than failing the record.
func DeriveSemantics(target protocol.TargetDescriptor, code protocol.CodeBundle) Semantics {
	sem := Semantics{
		AtomicLevel:        string(target.Class),
		Inventory:          map[string]int{},
		CompositionTree:    target.Tag,
		InteractionPattern: "display",
		State:              "default",
		EventListeners:     []string{},
	}

	root := parseFragment(code.HTML)
	if root != nil {
		sem.Inventory = inventory(root)
		sem.CompositionTree = compositionTree(root, compositionDepth)
		sem.EventListeners = inlineListeners(root)
		sem.State = elementState(root)
	}

	if p, ok := interactionByTag[target.Tag]; ok {
		sem.InteractionPattern = p
	} else if len(sem.EventListeners) > 0 {
		sem.InteractionPattern = "scripted"
	}

	sem.DesignPattern = designPattern(target, root)
	return sem
}

// parseFragment parses serialized markup and returns its first element node,
// or nil when nothing usable is in there.
func parseFragment(markup string) *html.Node {
	if strings.TrimSpace(markup) == "" {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	// html.Parse wraps fragments in html/head/body; the captured element
	// lands under body unless it was a structural tag itself.
	var first *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if first != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data != "html" && n.Data != "head" && n.Data != "body" {
			first = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return first
}

// inventory counts every element tag in the subtree, the root included.
func inventory(root *html.Node) map[string]int {
	counts := map[string]int{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			counts[n.Data]++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return counts
}

// compositionTree renders the subtree as "tag > [child, child > [...]]" down
// to a fixed depth.
func compositionTree(n *html.Node, depth int) string {
	if n.Type != html.ElementNode {
		return ""
	}
	if depth <= 1 {
		return n.Data
	}
	var kids []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		kids = append(kids, compositionTree(c, depth-1))
	}
	if len(kids) == 0 {
		return n.Data
	}
	return n.Data + " > [" + strings.Join(kids, ", ") + "]"
}

// inlineListeners collects on* handler attribute names anywhere in the
// subtree, deduplicated and without the prefix.
func inlineListeners(root *html.Node) []string {
	seen := map[string]bool{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				name := strings.ToLower(a.Key)
				if strings.HasPrefix(name, "on") && len(name) > 2 {
					seen[name[2:]] = true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// elementState reads interaction state off the root element's attributes and
// class names.
func elementState(root *html.Node) string {
	classes := ""
	for _, a := range root.Attr {
		switch strings.ToLower(a.Key) {
		case "disabled":
			return "disabled"
		case "hidden":
			return "hidden"
		case "aria-expanded":
			if a.Val == "true" {
				return "expanded"
			}
		case "class":
			classes = strings.ToLower(a.Val)
		}
	}
	for _, s := range []string{"disabled", "active", "selected", "open", "checked"} {
		if strings.Contains(classes, s) {
			return s
		}
	}
	return "default"
}

func designPattern(target protocol.TargetDescriptor, root *html.Node) string {
	haystack := strings.ToLower(strings.Join(target.Classes, " ") + " " + target.ID + " " + target.Tag)
	if root != nil {
		haystack += " " + classNames(root)
	}
	for _, dp := range designPatterns {
		if strings.Contains(haystack, dp.needle) {
			return dp.pattern
		}
	}
	return ""
}

// classNames gathers class attribute values one level deep; deeper markup
// says little about what the captured element itself is.
func classNames(root *html.Node) string {
	var parts []string
	collect := func(n *html.Node) {
		for _, a := range n.Attr {
			if strings.ToLower(a.Key) == "class" {
				parts = append(parts, strings.ToLower(a.Val))
			}
		}
	}
	collect(root)
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			collect(c)
		}
	}
	return strings.Join(parts, " ")
}
