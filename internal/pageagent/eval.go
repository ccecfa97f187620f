package pageagent

import "encoding/json"

// BindingName is the global function the page calls to reach the agent.
const BindingName = "__elementcapNotify"

const (
	overlayID = "__elementcap_overlay"
	tooltipID = "__elementcap_tooltip"
	cursorID  = "__elementcap_cursor"
)

// codeEvalFail mirrors the error_code field in the envelope every injected
// script returns.
const codeEvalFail = "EVAL_FAILURE"

// jsMutationCounter installs a document-wide MutationObserver that bumps a
// global counter. Installed once per page and never disconnected, so the
// counter survives disarm and can be compared against a capture taken later.
const jsMutationCounter = `
if (!window.__elementcapObserver) {
  window.__elementcapMutations = 0;
  var _obs = new MutationObserver(function(muts) {
    window.__elementcapMutations += muts.length;
  });
  _obs.observe(document.documentElement, {childList:true, subtree:true, attributes:true, characterData:true});
  window.__elementcapObserver = _obs;
}
`

// jsIdentHelpers reads identity and rect facts off an element.
const jsIdentHelpers = `
function _classes(el) {
  var out = [];
  if (el.classList) { for (var i = 0; i < el.classList.length; i++) out.push(el.classList[i]); }
  return out;
}
function _ident(el) {
  return {tag: el.tagName.toLowerCase(), id: el.id || "", classes: _classes(el)};
}
function _vrect(el) {
  var r = el.getBoundingClientRect();
  return {x: r.left, y: r.top, w: r.width, h: r.height};
}
function _prect(el) {
  var r = el.getBoundingClientRect();
  return {x: r.left + window.scrollX, y: r.top + window.scrollY, w: r.width, h: r.height};
}
`

// jsStyleProbe reads the computed properties the token extractor consumes.
// Each property is guarded on its own: one unreadable value never sinks the
// whole snapshot.
const jsStyleProbe = `
var _styleProps = ["color","background-color","border-color","font-family","font-size","font-weight","line-height","margin-top","margin-right","margin-bottom","margin-left","padding-top","padding-right","padding-bottom","padding-left","border-width","border-style","border-radius","box-shadow","opacity"];
function _style(el) {
  var out = {};
  var cs;
  try { cs = window.getComputedStyle(el); } catch(_) { return out; }
  for (var i = 0; i < _styleProps.length; i++) {
    try { out[_styleProps[i]] = cs.getPropertyValue(_styleProps[i]); } catch(_) {}
  }
  return out;
}
`

// jsElementFacts serializes everything the resolver needs, gathered in one
// synchronous pass so a mutating page cannot change the answer midway.
const jsElementFacts = `
function _crossOrigin(el) {
  var t = el.tagName.toUpperCase();
  if (t === "OBJECT" || t === "EMBED") return true;
  if (t !== "IFRAME" && t !== "FRAME") return false;
  try { return el.contentDocument === null; } catch(_) { return true; }
}
function _sibling(el) {
  if (!el) return null;
  var s = _ident(el);
  try { s.html = el.outerHTML; } catch(_) { s.html = ""; }
  return s;
}
function _elementFacts(el) {
  var childTags = [];
  for (var i = 0; i < el.children.length; i++) childTags.push(el.children[i].tagName.toLowerCase());
  var lineage = [];
  var p = el.parentElement;
  while (p && p !== document && lineage.length < 3) {
    lineage.push(_ident(p));
    p = p.parentElement;
  }
  var html = "";
  try { html = el.outerHTML; } catch(_) {}
  var text = "";
  try { text = (el.textContent || "").replace(/\s+/g, ""); } catch(_) {}
  return {
    tag: el.tagName.toLowerCase(),
    id: el.id || "",
    classes: _classes(el),
    child_count: el.children.length,
    child_tags: childTags,
    has_text: text.length > 0,
    only_child_has_children: el.children.length === 1 && el.children[0].children.length > 0,
    document_root: el === document.documentElement,
    cross_origin: _crossOrigin(el),
    html: html,
    page_rect: _prect(el),
    viewport_rect: _vrect(el),
    lineage: lineage,
    prev_sibling: _sibling(el.previousElementSibling),
    next_sibling: _sibling(el.nextElementSibling),
    style: _style(el),
    mutations: window.__elementcapMutations | 0
  };
}
`

// pageFactsScript gathers the environment snapshot: location plus the raw
// detection inputs for the configured probe set. Globals and attribute
// selectors are injected at build time.
func pageFactsScript(globals, attrs []string) string {
	if globals == nil {
		globals = []string{}
	}
	if attrs == nil {
		attrs = []string{}
	}
	return `
var _probeGlobals = ` + jsJSON(globals) + `;
var _probeAttrs = ` + jsJSON(attrs) + `;
function _pageFacts() {
  var globals = {};
  for (var i = 0; i < _probeGlobals.length; i++) {
    try { globals[_probeGlobals[i]] = window[_probeGlobals[i]] !== undefined; } catch(_) { globals[_probeGlobals[i]] = false; }
  }
  var attrs = {};
  for (var j = 0; j < _probeAttrs.length; j++) {
    try { attrs[_probeAttrs[j]] = document.querySelector("[" + _probeAttrs[j] + "]") !== null; } catch(_) { attrs[_probeAttrs[j]] = false; }
  }
  var srcs = [];
  try {
    for (var k = 0; k < document.scripts.length && srcs.length < 50; k++) {
      if (document.scripts[k].src) srcs.push(document.scripts[k].src);
    }
  } catch(_) {}
  return {href: location.href, globals: globals, attributes: attrs, script_srcs: srcs};
}
`
}

// armScript builds the full arming payload: overlay, tooltip, cursor
// override and the three capture-phase listeners. Re-arming an armed page is
// a no-op so a duplicate command cannot stack listeners.
func armScript(globals, attrs []string) string {
	return buildIIFE(`
if (window.__elementcapArmed) return JSON.stringify({ok:true});
` + jsMutationCounter + jsIdentHelpers + jsStyleProbe + jsElementFacts + pageFactsScript(globals, attrs) + `
var overlay = document.createElement("div");
overlay.id = ` + jsString(overlayID) + `;
overlay.style.cssText = "position:fixed;z-index:2147483646;pointer-events:none;display:none;box-sizing:border-box;border:2px solid #4c8bf5;background:rgba(76,139,245,0.15);";
var tooltip = document.createElement("div");
tooltip.id = ` + jsString(tooltipID) + `;
tooltip.style.cssText = "position:fixed;z-index:2147483647;pointer-events:none;display:none;background:#1f2430;color:#e8eaf0;font:11px/1.5 monospace;padding:2px 6px;border-radius:3px;white-space:nowrap;";
var cursor = document.createElement("style");
cursor.id = ` + jsString(cursorID) + `;
cursor.textContent = "*, * * { cursor: crosshair !important; }";
document.documentElement.appendChild(overlay);
document.documentElement.appendChild(tooltip);
document.head.appendChild(cursor);

var lastTarget = null;
function _notify(payload) {
  try { window.` + BindingName + `(JSON.stringify(payload)); } catch(_) {}
}
function _ours(el) {
  return el === overlay || el === tooltip || overlay.contains(el) || tooltip.contains(el);
}
function _onMove(ev) {
  var el = ev.target;
  if (!el || !(el instanceof Element) || _ours(el)) return;
  var r = el.getBoundingClientRect();
  overlay.style.display = "block";
  overlay.style.left = r.left + "px";
  overlay.style.top = r.top + "px";
  overlay.style.width = r.width + "px";
  overlay.style.height = r.height + "px";
  var label = el.tagName.toLowerCase();
  if (el.id) label += "#" + el.id;
  else if (el.classList.length > 0) label += "." + el.classList[0];
  tooltip.textContent = label + "  " + Math.round(r.width) + "×" + Math.round(r.height);
  tooltip.style.display = "block";
  tooltip.style.left = r.left + "px";
  tooltip.style.top = (r.top > 24 ? r.top - 22 : r.bottom + 4) + "px";
  if (el !== lastTarget) {
    lastTarget = el;
    _notify({event: "hover", rect: {x: r.left, y: r.top, w: r.width, h: r.height}});
  }
}
function _onClick(ev) {
  var el = ev.target;
  if (!el || !(el instanceof Element) || _ours(el)) return;
  ev.preventDefault();
  ev.stopPropagation();
  overlay.style.background = "rgba(76,139,245,0.4)";
  _notify({event: "confirm", element: _elementFacts(el), page: _pageFacts()});
}
function _onKey(ev) {
  if (ev.key !== "Escape") return;
  ev.preventDefault();
  ev.stopPropagation();
  _notify({event: "cancel"});
}
document.addEventListener("mousemove", _onMove, true);
document.addEventListener("click", _onClick, true);
document.addEventListener("keydown", _onKey, true);
window.__elementcapHandlers = {move: _onMove, click: _onClick, key: _onKey};
window.__elementcapArmed = true;
return JSON.stringify({ok:true});
`)
}

// disarmScript removes everything armScript installed. The mutation counter
// stays: staleness checks outlive selection mode.
func disarmScript() string {
	return buildIIFE(`
var h = window.__elementcapHandlers;
if (h) {
  document.removeEventListener("mousemove", h.move, true);
  document.removeEventListener("click", h.click, true);
  document.removeEventListener("keydown", h.key, true);
  delete window.__elementcapHandlers;
}
var ids = [` + jsString(overlayID) + `, ` + jsString(tooltipID) + `, ` + jsString(cursorID) + `];
for (var i = 0; i < ids.length; i++) {
  var el = document.getElementById(ids[i]);
  if (el && el.parentNode) el.parentNode.removeChild(el);
}
window.__elementcapArmed = false;
return JSON.stringify({ok:true});
`)
}

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(body string) string {
	return `(function(){
try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + codeEvalFail + `",error_message:String(err && err.message || err)});
}
})()`
}
