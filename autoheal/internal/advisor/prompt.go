package advisor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

const systemPrompt = `You repair broken UI test locators.
Given a locator that no longer matches and the interactive elements of the current page, propose replacement CSS selectors that target the element the original locator meant.
Rules:
- Only use attributes that appear in the element list.
- Prefer id, data-test, data-testid, name, aria-label or placeholder over classes and positions.
- Each selector must match exactly one element.
- Answer with a JSON array of strings, best first, and nothing else.`

// BuildPrompt renders the system and user messages for req.
func BuildPrompt(req Request) (system, user string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Broken locator: %s\n", req.Original)
	fmt.Fprintf(&b, "Action: %s\n", req.Action)
	if req.PageURL != "" {
		fmt.Fprintf(&b, "Page: %s\n", req.PageURL)
	}
	fmt.Fprintf(&b, "Return at most %d selectors.\n\n", req.Max)
	b.WriteString("Interactive elements:\n")
	b.WriteString(req.Elements)
	if req.PageText != "" {
		b.WriteString("\nPage text:\n")
		b.WriteString(req.PageText)
		b.WriteByte('\n')
	}
	return systemPrompt, b.String()
}

var (
	reFence  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	reBullet = regexp.MustCompile(`^\s*(?:[-*]|\d+[.)])\s*`)
)

// ParseSuggestions extracts up to limit locators from a model answer. It
// accepts a JSON array of strings, a JSON object with a "selectors"
// array, or one selector per line, optionally inside a code fence.
// Invalid or unsafe selectors are dropped.
func ParseSuggestions(text string, limit int) []locator.Locator {
	text = strings.TrimSpace(text)
	if m := reFence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	var raw []string
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		var obj struct {
			Selectors []string `json:"selectors"`
		}
		if err := json.Unmarshal([]byte(text), &obj); err == nil {
			raw = obj.Selectors
		} else {
			for _, line := range strings.Split(text, "\n") {
				line = reBullet.ReplaceAllString(strings.TrimSpace(line), "")
				line = strings.Trim(line, "`")
				if line != "" {
					raw = append(raw, line)
				}
			}
		}
	}

	seen := make(map[string]bool)
	var out []locator.Locator
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if seen[s] || ValidateSelector(s) != nil {
			continue
		}
		seen[s] = true
		out = append(out, locator.Locator(s))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

var dangerous = []string{"javascript:", "<script", "onerror=", "onload="}

// ValidateSelector rejects empty, oversized, unsafe or syntactically
// implausible selectors.
func ValidateSelector(sel string) error {
	if sel == "" {
		return fmt.Errorf("advisor: selector is empty")
	}
	if len(sel) > 1000 {
		return fmt.Errorf("advisor: selector exceeds 1000 characters")
	}
	lower := strings.ToLower(sel)
	for _, p := range dangerous {
		if strings.Contains(lower, p) {
			return fmt.Errorf("advisor: selector contains dangerous pattern %q", p)
		}
	}
	c := sel[0]
	if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || strings.IndexByte("#.[*", c) >= 0) {
		return fmt.Errorf("advisor: selector must start with a CSS selector character")
	}
	return nil
}
