package candidate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hazyhaar/selfheal/autoheal/internal/extract"
	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// Heuristic scoring defaults.
const (
	DefaultMinScore = 0.4
	DefaultMinText  = 0.3
	DefaultLimit    = 10

	kindBonus  = 0.1
	textWeight = 0.8
	typeWeight = 0.2
	tagBonus   = 0.25
	scoreFloor = 0.05
)

// Scorer rates snapshot elements as replacements for one original
// locator and action kind.
type Scorer struct {
	original locator.Locator
	feats    Features
	kind     locator.ActionKind
}

// NewScorer parses original once for repeated scoring.
func NewScorer(original locator.Locator, kind locator.ActionKind) *Scorer {
	return &Scorer{original: original, feats: ParseFeatures(original), kind: kind}
}

// Features returns the parsed features of the original locator.
func (s *Scorer) Features() Features { return s.feats }

// Match is the scoring result for one element.
type Match struct {
	Element extract.Element
	Score   float64
	TextSim float64
	Reason  string
}

type source struct {
	kind, attr, val string
}

func sources(e extract.Element) []source {
	var out []source
	for _, k := range extract.KeyAttrs {
		v, ok := e.Attrs[k]
		if !ok {
			continue
		}
		switch k {
		case "id":
			out = append(out, source{KindID, "id", v})
		case "class":
			for _, c := range strings.Fields(v) {
				out = append(out, source{KindClass, "class", c})
			}
		case "href":
		case "value":
			out = append(out, source{KindText, "value", v})
		default:
			out = append(out, source{KindAttr, k, v})
		}
	}
	if e.Text != "" {
		out = append(out, source{KindText, "text", e.Text})
	}
	if e.Label != "" {
		out = append(out, source{KindText, "label", e.Label})
	}
	return out
}

// Score rates e.
func (s *Scorer) Score(e extract.Element) Match {
	m := Match{Element: e}
	for _, f := range s.feats.Items {
		for _, src := range sources(e) {
			sim := Similarity(f.Value, src.val)
			if sim == 0 {
				continue
			}
			if f.Kind == src.kind && (f.Kind != KindAttr || f.Attr == src.attr) {
				sim += kindBonus
			}
			sim = min(sim, 1)
			if sim > m.TextSim {
				m.TextSim = sim
				m.Reason = fmt.Sprintf("%s %q ~ %q", src.attr, src.val, f.Value)
			}
		}
	}
	fit := typeFit(s.kind, e)
	if s.feats.Tag != "" && e.Tag == s.feats.Tag {
		fit = min(1, fit+tagBonus)
	}
	m.Score = textWeight*m.TextSim + typeWeight*fit
	return m
}

// typeFit rates how well the element kind suits the action.
func typeFit(kind locator.ActionKind, e extract.Element) float64 {
	typ := strings.ToLower(e.Attrs["type"])
	role := strings.ToLower(e.Attrs["role"])
	toggle := (e.Tag == "input" && (typ == "checkbox" || typ == "radio")) || role == "checkbox" || role == "radio" || role == "switch"
	button := e.Tag == "button" || e.Tag == "a" || role == "button" || role == "link" ||
		(e.Tag == "input" && (typ == "submit" || typ == "button" || typ == "reset" || typ == "image"))
	textual := e.Tag == "textarea" || role == "textbox" || role == "searchbox" ||
		(e.Tag == "input" && !toggle && !button && typ != "file" && typ != "range" && typ != "color")

	switch kind {
	case locator.ActionFill:
		switch {
		case textual:
			return 1
		case toggle:
			return 0.2
		}
		return 0
	case locator.ActionClick:
		switch {
		case button:
			return 1
		case toggle:
			return 0.6
		}
		return 0.3
	case locator.ActionCheck, locator.ActionUncheck:
		if toggle {
			return 1
		}
		return 0
	case locator.ActionSelect:
		switch {
		case e.Tag == "select":
			return 1
		case role == "combobox" || role == "listbox":
			return 0.6
		}
		return 0
	}
	return 0.5
}

// Heuristic generates candidates from attribute similarity alone. It is
// deterministic for a given snapshot.
type Heuristic struct {
	MinScore float64
	MinText  float64
	Limit    int
}

func (h Heuristic) withDefaults() Heuristic {
	if h.MinScore <= 0 {
		h.MinScore = DefaultMinScore
	}
	if h.MinText <= 0 {
		h.MinText = DefaultMinText
	}
	if h.Limit <= 0 {
		h.Limit = DefaultLimit
	}
	return h
}

// Candidates ranks the visible elements of snap, best first.
func (h Heuristic) Candidates(snap *extract.Snapshot, original locator.Locator, kind locator.ActionKind) []locator.Candidate {
	h = h.withDefaults()
	sc := NewScorer(original, kind)
	if len(sc.feats.Items) == 0 {
		return nil
	}

	var matches []Match
	for _, e := range snap.Visible() {
		m := sc.Score(e)
		if m.TextSim < h.MinText || m.Score < h.MinScore {
			continue
		}
		matches = append(matches, m)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	seen := map[locator.Locator]bool{original: true}
	var out []locator.Candidate
	for _, m := range matches {
		if len(out) >= h.Limit {
			break
		}
		loc := BuildLocator(snap, m.Element, sc.feats)
		if loc == "" || seen[loc] {
			continue
		}
		seen[loc] = true
		out = append(out, locator.Candidate{
			Locator:    loc,
			Provenance: locator.ProvenanceHeuristic,
			Confidence: round(m.Score),
			Reason:     m.Reason,
		})
	}
	return out
}

var testAttrs = []string{"data-test", "data-testid", "data-test-id", "data-qa", "data-cy"}

// BuildLocator derives a locator for e from its most stable attribute.
// The original's feature kinds are preferred, then id, test attributes,
// name, aria-label, placeholder, text and class. The first option that
// resolves to e alone in snap wins; otherwise the first option is used.
func BuildLocator(snap *extract.Snapshot, e extract.Element, prefer Features) locator.Locator {
	var opts []locator.Locator
	add := func(l locator.Locator) {
		if l != "" {
			opts = append(opts, l)
		}
	}
	for _, f := range prefer.Items {
		switch f.Kind {
		case KindID:
			add(idLocator(e.Attrs["id"]))
		case KindAttr:
			if v, ok := e.Attrs[f.Attr]; ok {
				add(attrLocator("", f.Attr, v))
			}
		}
	}
	add(idLocator(e.Attrs["id"]))
	for _, k := range testAttrs {
		if v, ok := e.Attrs[k]; ok {
			add(attrLocator("", k, v))
		}
	}
	for _, k := range []string{"name", "aria-label", "placeholder"} {
		if v, ok := e.Attrs[k]; ok {
			add(attrLocator(e.Tag, k, v))
		}
	}
	if e.Text != "" && len(e.Text) <= 60 && !strings.HasSuffix(e.Text, "…") {
		add(locator.Locator(fmt.Sprintf("%s:has-text(%s)", e.Tag, quote(e.Text))))
	}
	if e.Tag == "input" {
		if v, ok := e.Attrs["value"]; ok {
			add(attrLocator("input", "value", v))
		}
	}
	if cls := strings.Fields(e.Attrs["class"]); len(cls) > 0 && cssIdent.MatchString(cls[0]) {
		add(locator.Locator(e.Tag + "." + cls[0]))
	}
	if len(opts) == 0 {
		return ""
	}
	for _, l := range opts {
		nodes, err := snap.Query(l)
		if err == nil && len(nodes) == 1 && nodes[0] == e.Node() {
			return l
		}
	}
	return opts[0]
}

var cssIdent = regexp.MustCompile(`^-?[A-Za-z_][\w-]*$`)

func idLocator(id string) locator.Locator {
	if id == "" {
		return ""
	}
	if cssIdent.MatchString(id) {
		return locator.Locator("#" + id)
	}
	return attrLocator("", "id", id)
}

func attrLocator(tag, key, val string) locator.Locator {
	return locator.Locator(fmt.Sprintf("%s[%s=%s]", tag, key, quote(val)))
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func round(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}
