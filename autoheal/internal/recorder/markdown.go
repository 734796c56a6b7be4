// CLAUDE:SUMMARY Collects healing records and writes a markdown recommendations report when closed.
package recorder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// RecommendationsDir is the report directory relative to the project path.
const RecommendationsDir = ".autoheal/recommendations"

// Markdown accumulates records and writes the recommendations report on
// Close. Nothing is written when no record was received.
type Markdown struct {
	mu      sync.Mutex
	dir     string
	now     func() time.Time
	records []locator.HealingRecord
	path    string
}

// NewMarkdown creates a Markdown sink writing under
// <projectPath>/.autoheal/recommendations.
func NewMarkdown(projectPath string) *Markdown {
	if projectPath == "" {
		projectPath = "."
	}
	return &Markdown{dir: filepath.Join(projectPath, RecommendationsDir), now: time.Now}
}

func (m *Markdown) Send(_ context.Context, rec locator.HealingRecord) error {
	m.mu.Lock()
	m.records = append(m.records, rec.Clone())
	m.mu.Unlock()
	return nil
}

// Path returns the written report path, empty before Close.
func (m *Markdown) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.path
}

func (m *Markdown) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 || m.path != "" {
		return nil
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("markdown: mkdir: %w", err)
	}
	now := m.now().UTC()
	path := filepath.Join(m.dir, "healing-"+now.Format("20060102T150405Z")+".md")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("markdown: create: %w", err)
	}
	if err := WriteReport(f, m.records, 0, now); err != nil {
		f.Close()
		return fmt.Errorf("markdown: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("markdown: close: %w", err)
	}
	m.path = path
	return nil
}

// WriteReport renders the recommendations report for records.
func WriteReport(w io.Writer, records []locator.HealingRecord, direct int, at time.Time) error {
	sum := locator.Summarize(records, direct)
	var b strings.Builder
	fmt.Fprintf(&b, "# Locator healing report\n\nGenerated %s.\n\n", at.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Healing attempts: %d\n- Healed: %d\n- Failed: %d\n", sum.Total, sum.Succeeded, sum.Failed)
	if direct > 0 {
		fmt.Fprintf(&b, "- Direct successes: %d\n", direct)
	}
	for _, s := range sum.SortedStrategies() {
		fmt.Fprintf(&b, "- Strategy %s: %d\n", s, sum.ByStrategy[s])
	}

	if healed := locator.HealedPairs(records); len(healed) > 0 {
		b.WriteString("\n## Recommended locator updates\n\n")
		b.WriteString("| Page | Action | Original | Replacement | Strategy | Confidence | Uses |\n")
		b.WriteString("|---|---|---|---|---|---|---|\n")
		for _, h := range healed {
			fmt.Fprintf(&b, "| %s | %s | `%s` | `%s` | %s | %.2f | %d |\n",
				cell(h.Scope), h.Action, cell(string(h.Original)), cell(string(h.Healed)), h.Strategy, h.Confidence, h.Count)
		}
	}

	var failed []locator.HealingRecord
	for _, r := range records {
		if !r.Success {
			failed = append(failed, r)
		}
	}
	if len(failed) > 0 {
		b.WriteString("\n## Unhealed locators\n\n")
		b.WriteString("| Page | Action | Locator | Attempted | Error |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, r := range failed {
			attempted := make([]string, len(r.Attempted))
			for i, a := range r.Attempted {
				attempted[i] = "`" + cell(string(a)) + "`"
			}
			fmt.Fprintf(&b, "| %s | %s | `%s` | %s | %s |\n",
				cell(r.Page.Scope), r.Action, cell(string(r.OriginalLocator)), strings.Join(attempted, ", "), cell(r.Error))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
