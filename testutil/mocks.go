// Package testutil holds shared test helpers: an env-gated Postgres setup
// and in-memory fakes for the external collaborators.
package testutil

import (
	"context"
	"sync"

	"github.com/onnwee/chess-companion/describe"
	"github.com/onnwee/chess-companion/engine"
	"github.com/onnwee/chess-companion/history"
	"github.com/onnwee/chess-companion/position"
)

// FakeEngine records evaluate calls and answers from Fn, or a fixed default
// result when Fn is nil.
type FakeEngine struct {
	mu    sync.Mutex
	calls []string
	Fn    func(fen string, limit engine.Limit) (engine.Result, error)
}

func (f *FakeEngine) Evaluate(_ context.Context, fen string, limit engine.Limit) (engine.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fen)
	f.mu.Unlock()
	if f.Fn != nil {
		return f.Fn(fen, limit)
	}
	return engine.Result{BestMove: "e2e4", ScoreCP: 30, Depth: 10, PV: []string{"e2e4", "e7e5"}}, nil
}

// Calls returns the FENs evaluated so far.
func (f *FakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// FakeHistory returns fixed refs or a fixed error.
type FakeHistory struct {
	Refs []history.Ref
	Err  error
}

func (f *FakeHistory) Search(context.Context, position.Position, int) ([]history.Ref, error) {
	return f.Refs, f.Err
}

// FakeDescriber returns fixed text or a fixed error.
type FakeDescriber struct {
	Text string
	Err  error
}

func (f *FakeDescriber) Synthesize(context.Context, describe.Facts) (string, error) {
	return f.Text, f.Err
}

// ScriptedDetector plays back a fixed sequence of detections, then reports
// no frame. A nil element in Frames means "no frame" for that tick.
type ScriptedDetector struct {
	mu     sync.Mutex
	Frames []*position.RawDetection
	next   int
}

func (d *ScriptedDetector) Detect(context.Context) (*position.RawDetection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.next >= len(d.Frames) {
		return nil, nil
	}
	f := d.Frames[d.next]
	d.next++
	return f, nil
}
