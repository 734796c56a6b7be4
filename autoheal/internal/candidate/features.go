package candidate

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// Feature kinds extracted from a locator.
const (
	KindID    = "id"
	KindClass = "class"
	KindAttr  = "attr"
	KindText  = "text"
)

// Feature is one distinguishing fact a locator asserts about its target.
type Feature struct {
	Kind  string
	Attr  string // attribute name for KindAttr
	Value string
}

// Features is the parsed form of a locator used for scoring.
type Features struct {
	Tag   string
	Items []Feature
}

var (
	reTextEq    = regexp.MustCompile(`^text=\s*(?:"([^"]*)"|'([^']*)'|(.+))$`)
	reRole      = regexp.MustCompile(`^role=([\w-]+)(.*)$`)
	reTextPseud = regexp.MustCompile(`:(?:has-text|text-is|text|contains)\(\s*(?:"([^"]*)"|'([^']*)'|([^)]*))\s*\)`)
	reXText     = regexp.MustCompile(`(?:text\(\)|\.)\s*[=,]\s*(?:"([^"]*)"|'([^']*)')`)
	reAttr      = regexp.MustCompile(`\[\s*@?([\w:-]+)\s*(?:[~^$*|]?=\s*(?:"([^"]*)"|'([^']*)'|([^\]\s]+)))?\s*(?:i\s*)?\]`)
	reID        = regexp.MustCompile(`#((?:[\w-]|\\.)+)`)
	reClass     = regexp.MustCompile(`\.([A-Za-z_-](?:[\w-]|\\.)*)`)
	reXTag      = regexp.MustCompile(`/+([A-Za-z][\w-]*)`)
	reCSSTag    = regexp.MustCompile(`(?:^|[\s>+~])([A-Za-z][\w-]*)`)
)

// ParseFeatures extracts attribute, id, class, tag and text features from
// loc. It accepts CSS, text= and role= engines and simple XPath, and never
// fails: unrecognised syntax contributes no features.
func ParseFeatures(loc locator.Locator) Features {
	s := strings.TrimSpace(string(loc))
	s = strings.TrimPrefix(s, "css=")
	var f Features

	if m := reTextEq.FindStringSubmatch(s); m != nil {
		f.add(KindText, "", firstNonEmpty(m[1:]...))
		return f
	}
	if m := reRole.FindStringSubmatch(s); m != nil {
		f.add(KindAttr, "role", m[1])
		for _, am := range reAttr.FindAllStringSubmatch(m[2], -1) {
			if am[1] == "name" {
				f.add(KindText, "", firstNonEmpty(am[2:]...))
			}
		}
		return f
	}

	xpath := strings.HasPrefix(s, "/") || strings.HasPrefix(s, "xpath=") || strings.HasPrefix(s, "(")
	s = strings.TrimPrefix(s, "xpath=")

	for _, m := range reTextPseud.FindAllStringSubmatch(s, -1) {
		f.add(KindText, "", firstNonEmpty(m[1:]...))
	}
	s = reTextPseud.ReplaceAllString(s, "")

	if xpath {
		for _, m := range reXText.FindAllStringSubmatch(s, -1) {
			f.add(KindText, "", firstNonEmpty(m[1:]...))
		}
	}

	for _, m := range reAttr.FindAllStringSubmatch(s, -1) {
		name := strings.ToLower(m[1])
		val := firstNonEmpty(m[2:]...)
		switch name {
		case "id":
			f.add(KindID, "", val)
		case "class":
			for _, c := range strings.Fields(val) {
				f.add(KindClass, "", c)
			}
		default:
			if val == "" {
				val = name
			}
			f.add(KindAttr, name, val)
		}
	}
	rest := reAttr.ReplaceAllString(s, "")

	if xpath {
		if tags := reXTag.FindAllStringSubmatch(rest, -1); len(tags) > 0 {
			f.Tag = strings.ToLower(tags[len(tags)-1][1])
		}
		if f.Tag == "*" {
			f.Tag = ""
		}
		return f
	}

	for _, m := range reID.FindAllStringSubmatch(rest, -1) {
		f.add(KindID, "", unescape(m[1]))
	}
	for _, m := range reClass.FindAllStringSubmatch(rest, -1) {
		f.add(KindClass, "", unescape(m[1]))
	}
	// The tag of the last compound is the target's tag.
	last := rest
	if i := strings.LastIndexAny(rest, " >+~"); i >= 0 {
		last = rest[i:]
	}
	if m := reCSSTag.FindStringSubmatch(last); m != nil {
		f.Tag = strings.ToLower(m[1])
	}
	return f
}

func (f *Features) add(kind, attr, val string) {
	val = strings.TrimSpace(val)
	if val == "" {
		return
	}
	f.Items = append(f.Items, Feature{Kind: kind, Attr: attr, Value: val})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Tokenize splits a value into lowercase word tokens on punctuation,
// whitespace, digit boundaries and camelCase humps.
func Tokenize(s string) []string {
	var tokens []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r):
			if unicode.IsUpper(r) && len(cur) > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					flush()
				}
			} else if len(cur) > 0 && unicode.IsDigit(cur[len(cur)-1]) {
				flush()
			}
			cur = append(cur, r)
		case unicode.IsDigit(r):
			if len(cur) > 0 && !unicode.IsDigit(cur[len(cur)-1]) {
				flush()
			}
			cur = append(cur, r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
