package candidate

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/selfheal/autoheal/internal/advisor"
	"github.com/hazyhaar/selfheal/autoheal/internal/extract"
	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// Generative excerpt bounds.
const (
	DefaultExcerptElements = 150
	DefaultExcerptBytes    = 12 << 10
	DefaultPageTextBytes   = 4 << 10
)

// Generative asks the advisor for locators and keeps those resolving to
// exactly one element of the snapshot. A suggestion's confidence is the
// heuristic score of the element it resolves to.
type Generative struct {
	Advisor         advisor.Advisor
	Text            *extract.TextConverter // nil disables page text context
	ExcerptElements int
	ExcerptBytes    int
	PageTextBytes   int
	Logger          *slog.Logger
}

// Candidates returns the validated suggestions, in advisor order. Advisor
// failures yield no candidates.
func (g *Generative) Candidates(ctx context.Context, snap *extract.Snapshot, pageURL string, original locator.Locator, kind locator.ActionKind) []locator.Candidate {
	log := g.Logger
	if log == nil {
		log = slog.Default()
	}
	if g.Advisor == nil || len(snap.Elements) == 0 {
		return nil
	}

	req := advisor.Request{
		Original: original,
		Action:   kind,
		PageURL:  pageURL,
		Elements: snap.Excerpt(orDefault(g.ExcerptElements, DefaultExcerptElements), orDefault(g.ExcerptBytes, DefaultExcerptBytes)),
	}
	if g.Text != nil {
		text, err := g.Text.Convert(snap.Raw, pageURL, orDefault(g.PageTextBytes, DefaultPageTextBytes))
		if err != nil {
			log.Debug("candidate: page text skipped", "error", err)
		} else {
			req.PageText = text
		}
	}

	suggestions, err := g.Advisor.Suggest(ctx, req)
	if err != nil {
		log.Warn("candidate: generative strategy unavailable, continuing without it",
			"locator", original, "error", err)
		return nil
	}

	sc := NewScorer(original, kind)
	var out []locator.Candidate
	for _, s := range suggestions {
		if s == original {
			continue
		}
		nodes, err := snap.Query(s)
		if err != nil {
			log.Debug("candidate: unusable suggestion", "suggestion", s, "error", err)
			continue
		}
		if len(nodes) != 1 {
			log.Debug("candidate: suggestion not unique in snapshot", "suggestion", s, "matches", len(nodes))
			continue
		}
		conf := scoreFloor
		reason := "advisor suggestion"
		if e, ok := snap.ElementFor(nodes[0]); ok {
			m := sc.Score(e)
			conf = max(m.Score, scoreFloor)
			if m.Reason != "" {
				reason = "advisor suggestion; " + m.Reason
			}
		}
		out = append(out, locator.Candidate{
			Locator:    s,
			Provenance: locator.ProvenanceGenerative,
			Confidence: round(conf),
			Reason:     reason,
		})
	}
	return out
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
