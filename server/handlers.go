package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/chess-companion/analysis"
	"github.com/onnwee/chess-companion/broadcast"
	"github.com/onnwee/chess-companion/position"
	"github.com/onnwee/chess-companion/telemetry"
)

// Handlers bundles dependencies for the HTTP endpoints.
type Handlers struct {
	db       *sql.DB
	store    *analysis.Store
	coord    *analysis.Coordinator
	engine   EnginePinger
	players  broadcast.Source
	resolver *analysis.Resolver
}

// HandleHealthz responds to liveness probes. The process is alive if it can
// answer at all; the database check is included when one is configured.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes with per-check detail: the
// service is ready once the database answers, the engine session responds,
// and a first analysis has been committed.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.db == nil {
				return nil
			}
			return h.db.PingContext(r.Context())
		}},
		{"engine", func() error {
			if h.engine == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			return h.engine.Ping(ctx)
		}},
		{"analysis", func() error {
			if h.store.Current() == nil {
				return errors.New("no analysis committed yet")
			}
			return nil
		}},
	}

	type result struct {
		Name string `json:"name"`
		OK   bool   `json:"ok"`
		Err  string `json:"error,omitempty"`
	}
	results := make([]result, 0, len(checks))
	ready := true
	for _, c := range checks {
		res := result{Name: c.name, OK: true}
		if err := c.fn(); err != nil {
			res.OK = false
			res.Err = err.Error()
			ready = false
		}
		results = append(results, res)
	}
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ready": ready, "checks": results})
}

type statusBundle struct {
	ScoreCP  int    `json:"score_cp"`
	BestMove string `json:"best_move,omitempty"`
	Degraded bool   `json:"degraded"`
}

// HandleStatus reports the current cache entry and coordinator counters.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if h.coord != nil {
		out["watcher"] = h.coord.Stats()
	}
	if pos, ok := h.store.InFlight(); ok {
		out["in_flight"] = string(pos)
	}
	if cur := h.store.Current(); cur != nil {
		out["position"] = string(cur.Position)
		out["version"] = cur.Version
		out["committed_at"] = cur.CommittedAt
		out["age_seconds"] = time.Since(cur.CommittedAt).Seconds()
		out["white"] = toStatusBundle(cur.Bundle(position.White))
		out["black"] = toStatusBundle(cur.Bundle(position.Black))
	}
	writeJSON(w, http.StatusOK, out)
}

func toStatusBundle(b *analysis.Bundle) statusBundle {
	return statusBundle{ScoreCP: b.ScoreCP, BestMove: b.BestMove, Degraded: b.Degraded}
}

type queryRequest struct {
	Query string `json:"query"`
	// Optional per-request player overrides; empty fields fall back to the
	// broadcast source.
	White string `json:"white,omitempty"`
	Black string `json:"black,omitempty"`
}

type queryResponse struct {
	Bundle  *analysis.Bundle     `json:"bundle"`
	Resolve analysis.ResolveInfo `json:"resolve"`
	Mover   string               `json:"mover"`
}

// HandleQuery resolves a user question against the cached analysis. Replies
// 200 with a bundle, or 202 with a pending body when nothing has been
// analyzed yet; it never serves a guessed or partial answer.
func (h *Handlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query required", http.StatusBadRequest)
		return
	}

	bcast := analysis.BroadcastContext{White: req.White, Black: req.Black}
	if h.players != nil {
		p := h.players.Players()
		if bcast.White == "" {
			bcast.White = p.White
		}
		if bcast.Black == "" {
			bcast.Black = p.Black
		}
	}

	bundle, info, err := h.resolver.Resolve(req.Query, bcast)
	if err != nil {
		if errors.Is(err, analysis.ErrNoAnalysis) {
			writeJSON(w, http.StatusAccepted, map[string]any{"pending": true, "detail": "analysis in progress; retry shortly"})
			return
		}
		telemetry.LoggerWithCorr(r.Context()).Error("resolve failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Bundle: bundle, Resolve: info, Mover: bundle.MoverName()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err))
	}
}
