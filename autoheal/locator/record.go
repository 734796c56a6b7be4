package locator

import (
	"sort"
	"time"
)

// Strategy names how a healing attempt resolved.
type Strategy string

const (
	StrategyCache      Strategy = "cache"
	StrategyHeuristic  Strategy = "heuristic"
	StrategyGenerative Strategy = "generative"
	StrategyNone       Strategy = "none"
)

// StrategyOf maps a candidate provenance to the strategy recorded for it.
func StrategyOf(p Provenance) Strategy {
	if p == ProvenanceGenerative {
		return StrategyGenerative
	}
	return StrategyHeuristic
}

// HealingRecord is one healing attempt. Records are values: once
// recorded they are never modified.
type HealingRecord struct {
	ID              string     `json:"id"`
	OriginalLocator Locator    `json:"original_locator"`
	Page            Identity   `json:"page"`
	Action          ActionKind `json:"action"`
	HealedLocator   Locator    `json:"healed_locator,omitempty"`
	Strategy        Strategy   `json:"strategy"`
	Confidence      float64    `json:"confidence,omitempty"`
	Success         bool       `json:"success"`
	LatencyMs       int64      `json:"latency_ms"`
	Timestamp       time.Time  `json:"timestamp"`
	Attempted       []Locator  `json:"attempted,omitempty"`
	Error           string     `json:"error,omitempty"`
	Coalesced       bool       `json:"coalesced,omitempty"`
}

// Clone returns a deep copy of r.
func (r HealingRecord) Clone() HealingRecord {
	if r.Attempted != nil {
		r.Attempted = append([]Locator(nil), r.Attempted...)
	}
	return r
}

// Summary aggregates recorded attempts.
type Summary struct {
	Total      int              `json:"total"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Direct     int              `json:"direct"`
	ByStrategy map[Strategy]int `json:"by_strategy"`
}

// Healed is one distinct original to replacement mapping that worked.
type Healed struct {
	Original   Locator    `json:"original"`
	Healed     Locator    `json:"healed"`
	Action     ActionKind `json:"action"`
	Scope      string     `json:"scope"`
	Strategy   Strategy   `json:"strategy"`
	Confidence float64    `json:"confidence"`
	Count      int        `json:"count"`
}

// Summarize aggregates records. direct is the count of actions that
// succeeded without healing.
func Summarize(records []HealingRecord, direct int) Summary {
	s := Summary{Direct: direct, ByStrategy: make(map[Strategy]int)}
	for _, r := range records {
		s.Total++
		if r.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
		s.ByStrategy[r.Strategy]++
	}
	return s
}

// HealedPairs returns the distinct successful mappings in records, in
// first-seen order. Cache hits fold into the mapping that created them.
func HealedPairs(records []HealingRecord) []Healed {
	type key struct {
		scope, original, healed string
		action                  ActionKind
	}
	idx := make(map[key]int)
	var out []Healed
	for _, r := range records {
		if !r.Success || r.HealedLocator == "" {
			continue
		}
		k := key{r.Page.Scope, string(r.OriginalLocator), string(r.HealedLocator), r.Action}
		if i, ok := idx[k]; ok {
			out[i].Count++
			continue
		}
		idx[k] = len(out)
		out = append(out, Healed{
			Original:   r.OriginalLocator,
			Healed:     r.HealedLocator,
			Action:     r.Action,
			Scope:      r.Page.Scope,
			Strategy:   r.Strategy,
			Confidence: r.Confidence,
			Count:      1,
		})
	}
	return out
}

// SortedStrategies returns the strategy keys of s in a stable order.
func (s Summary) SortedStrategies() []Strategy {
	keys := make([]Strategy, 0, len(s.ByStrategy))
	for k := range s.ByStrategy {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
