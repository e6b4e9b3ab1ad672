package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/chess-companion/analysis"
	"github.com/onnwee/chess-companion/broadcast"
	"github.com/onnwee/chess-companion/position"
)

const startingPlacement = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR"

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func storeWithEntry(t *testing.T) *analysis.Store {
	t.Helper()
	s := analysis.NewStore()
	pos := position.Position(startingPlacement)
	tk := s.BeginUpdate(pos)
	if tk == nil {
		t.Fatal("expected ticket")
	}
	now := time.Now()
	white := &analysis.Bundle{
		Position: pos, Mover: position.White, ScoreCP: 30,
		BestMove: "e2e4", Description: "White to move.", CreatedAt: now,
	}
	black := &analysis.Bundle{
		Position: pos, Mover: position.Black, ScoreCP: 30,
		BestMove: "e7e5", Description: "Black to move.", CreatedAt: now,
	}
	if _, err := s.Commit(tk, white, black); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return s
}

func newTestMux(t *testing.T, store *analysis.Store, engineErr error) http.Handler {
	t.Helper()
	return NewMux(Options{
		Store:   store,
		Engine:  fakePinger{err: engineErr},
		Players: broadcast.Static{White: "Ding", Black: "Carlsen"},
	})
}

func TestHealthz(t *testing.T) {
	mux := newTestMux(t, analysis.NewStore(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadyzBeforeFirstAnalysis(t *testing.T) {
	mux := newTestMux(t, analysis.NewStore(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body struct {
		Ready bool `json:"ready"`
		Checks []struct {
			Name string `json:"name"`
			OK   bool   `json:"ok"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Ready {
		t.Fatal("expected not ready")
	}
	for _, c := range body.Checks {
		if c.Name == "analysis" && c.OK {
			t.Fatal("analysis check should fail before first commit")
		}
	}
}

func TestReadyzAfterCommit(t *testing.T) {
	mux := newTestMux(t, storeWithEntry(t), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
}

func TestReadyzEngineDown(t *testing.T) {
	mux := newTestMux(t, storeWithEntry(t), errors.New("engine gone"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestStatusIncludesEntry(t *testing.T) {
	mux := newTestMux(t, storeWithEntry(t), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["position"] != startingPlacement {
		t.Fatalf("position = %v, want %q", body["position"], startingPlacement)
	}
	if _, ok := body["white"]; !ok {
		t.Fatal("missing white bundle summary")
	}
}

func TestQueryPendingBeforeAnalysis(t *testing.T) {
	mux := newTestMux(t, analysis.NewStore(), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/query",
		bytes.NewBufferString(`{"query":"what should white play"}`))
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var body struct {
		Pending bool `json:"pending"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Pending {
		t.Fatal("expected pending=true")
	}
}

func TestQueryServesBundle(t *testing.T) {
	mux := newTestMux(t, storeWithEntry(t), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/query",
		bytes.NewBufferString(`{"query":"what should carlsen do here"}`))
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Bundle struct {
			BestMove string `json:"best_move"`
		} `json:"bundle"`
		Resolve struct {
			Perspective string `json:"perspective"`
			Source      string `json:"source"`
		} `json:"resolve"`
		Mover string `json:"mover"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Mover != "black" {
		t.Fatalf("mover = %q, want black (player-name match)", body.Mover)
	}
	if body.Resolve.Source != "player_name" {
		t.Fatalf("source = %q, want player_name", body.Resolve.Source)
	}
	if body.Bundle.BestMove != "e7e5" {
		t.Fatalf("best_move = %q, want e7e5", body.Bundle.BestMove)
	}
}

func TestQueryPlayerOverrides(t *testing.T) {
	mux := newTestMux(t, storeWithEntry(t), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/query",
		bytes.NewBufferString(`{"query":"how is nakamura doing","black":"Nakamura"}`))
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Mover string `json:"mover"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Mover != "black" {
		t.Fatalf("mover = %q, want black via override", body.Mover)
	}
}

func TestQueryRejectsBadRequests(t *testing.T) {
	mux := newTestMux(t, storeWithEntry(t), nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/query", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/query",
		bytes.NewBufferString(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty query status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/query",
		bytes.NewBufferString(`not json`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json status = %d, want 400", rec.Code)
	}
}

func TestCorrelationHeaderEchoed(t *testing.T) {
	mux := newTestMux(t, analysis.NewStore(), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	mux.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "abc-123" {
		t.Fatalf("X-Request-Id = %q, want abc-123", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	mux := newTestMux(t, analysis.NewStore(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/query", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("missing CORS header")
	}
}
