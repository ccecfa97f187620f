package pageagent

import (
	"strings"
	"testing"
)

func TestArmScriptEmbedsProbeInputs(t *testing.T) {
	js := armScript([]string{"React", "__NUXT__"}, []string{"data-reactroot", "ng-version"})

	for _, want := range []string{
		BindingName,
		`["React","__NUXT__"]`,
		`["data-reactroot","ng-version"]`,
		overlayID,
		tooltipID,
		cursorID,
		"__elementcapMutations",
	} {
		if !strings.Contains(js, want) {
			t.Errorf("arm script missing %q", want)
		}
	}
}

func TestArmScriptEmptyProbeSets(t *testing.T) {
	js := armScript(nil, nil)
	if !strings.Contains(js, "_probeGlobals = null") && !strings.Contains(js, "_probeGlobals = []") {
		t.Error("arm script has no probe globals declaration")
	}
	if !strings.Contains(js, "JSON.stringify({ok:true})") {
		t.Error("arm script does not return the ok envelope")
	}
}

func TestDisarmScriptRemovesInstalledNodes(t *testing.T) {
	js := disarmScript()
	for _, want := range []string{overlayID, tooltipID, cursorID, "removeEventListener"} {
		if !strings.Contains(js, want) {
			t.Errorf("disarm script missing %q", want)
		}
	}
	if strings.Contains(js, "__elementcapObserver") {
		t.Error("disarm must not touch the mutation observer")
	}
}

func TestBuildIIFEWrapsEnvelope(t *testing.T) {
	js := buildIIFE(`return JSON.stringify({ok:true});`)
	if !strings.HasPrefix(js, "(function(){") {
		t.Fatalf("not an IIFE: %q", js[:20])
	}
	if !strings.Contains(js, codeEvalFail) {
		t.Error("catch branch does not report the failure code")
	}
}

func TestJSStringEscapes(t *testing.T) {
	got := jsString(`a"b</script>`)
	if strings.Contains(got, `"a"b`) {
		t.Fatalf("unescaped quote in %q", got)
	}
	if got[0] != '"' || got[len(got)-1] != '"' {
		t.Fatalf("not a quoted literal: %q", got)
	}
}
