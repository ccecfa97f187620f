package extract

import "strings"

// LibraryProbe is one independent best-effort detection probe. A probe
// matches on whichever marker kinds it declares; each probe contributes at
// most one named entry to the result set. False positives are tolerated,
// false negatives are expected.
type LibraryProbe struct {
	Name            string `yaml:"name"`
	Global          string `yaml:"global,omitempty"`
	Attribute       string `yaml:"attribute,omitempty"`
	ScriptSubstring string `yaml:"script_substring,omitempty"`
}

// DefaultProbes is the built-in probe set used when no probe config file is
// supplied. Deliberately non-exhaustive.
func DefaultProbes() []LibraryProbe {
	return []LibraryProbe{
		{Name: "React", Global: "React", Attribute: "data-reactroot"},
		{Name: "Next.js", Global: "__NEXT_DATA__"},
		{Name: "Vue", Global: "__VUE__", Attribute: "data-v-app"},
		{Name: "Nuxt", Global: "__NUXT__"},
		{Name: "Angular", Attribute: "ng-version"},
		{Name: "Svelte", ScriptSubstring: "svelte"},
		{Name: "jQuery", Global: "jQuery"},
		{Name: "Bootstrap", ScriptSubstring: "bootstrap"},
		{Name: "Tailwind", ScriptSubstring: "tailwind"},
	}
}

// DetectLibraries evaluates every probe against the page facts and returns
// the matched names in probe order, deduplicated. Probes are independent:
// a probe with no usable marker simply does not match.
func DetectLibraries(probes []LibraryProbe, f PageFacts) []string {
	out := []string{}
	seen := make(map[string]bool, len(probes))
	for _, p := range probes {
		if p.Name == "" || seen[p.Name] {
			continue
		}
		if probeMatches(p, f) {
			seen[p.Name] = true
			out = append(out, p.Name)
		}
	}
	return out
}

func probeMatches(p LibraryProbe, f PageFacts) bool {
	if p.Global != "" && f.Globals[p.Global] {
		return true
	}
	if p.Attribute != "" && f.Attributes[p.Attribute] {
		return true
	}
	if p.ScriptSubstring != "" {
		needle := strings.ToLower(p.ScriptSubstring)
		for _, src := range f.ScriptSrcs {
			if strings.Contains(strings.ToLower(src), needle) {
				return true
			}
		}
	}
	return false
}
