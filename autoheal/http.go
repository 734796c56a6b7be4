package autoheal

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// Handler returns the read-only JSON API over the healing log:
//
//	GET /healing/records?scope=&success=&limit=
//	GET /healing/summary
//	GET /healing/healed
//	GET /metrics
func (h *Healer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/healing", func(r chi.Router) {
		r.Get("/records", h.handleRecords)
		r.Get("/summary", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, h.Summarize())
		})
		r.Get("/healed", func(w http.ResponseWriter, _ *http.Request) {
			healed := h.HealedSelectors()
			if healed == nil {
				healed = []locator.Healed{}
			}
			writeJSON(w, http.StatusOK, healed)
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	return r
}

func (h *Healer) handleRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := q.Get("scope")

	var success *bool
	if s := q.Get("success"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "success: " + err.Error()})
			return
		}
		success = &v
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit: must be a non-negative integer"})
			return
		}
		limit = v
	}

	out := []locator.HealingRecord{}
	for _, rec := range h.Results() {
		if scope != "" && rec.Page.Scope != scope {
			continue
		}
		if success != nil && rec.Success != *success {
			continue
		}
		out = append(out, rec)
	}
	// Most recent records win when limited.
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
