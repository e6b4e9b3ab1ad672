// Package analysis implements the live position-analysis pipeline: a
// single-slot cache of pre-computed commentary for the current broadcast
// position, a dual-perspective analyzer that sidesteps unreliable
// side-to-move detection by computing both sides, a poll-driven coordinator
// that recomputes only on genuine position change, and a query resolver that
// picks the perspective to serve from cheap signals.
package analysis

import (
	"context"
	"time"

	"github.com/onnwee/chess-companion/engine"
	"github.com/onnwee/chess-companion/history"
	"github.com/onnwee/chess-companion/position"
)

// Engine is the external engine collaborator. Implementations must tolerate
// only valid FENs; the coordinator guarantees input has passed
// position.Normalize before reaching here.
type Engine interface {
	Evaluate(ctx context.Context, fen string, limit engine.Limit) (engine.Result, error)
}

// History is the historical-similarity collaborator.
type History interface {
	Search(ctx context.Context, pos position.Position, topK int) ([]history.Ref, error)
}

// Detector is the vision collaborator, polled by the Coordinator. A nil
// detection with nil error means "no frame right now" and is not an error.
type Detector interface {
	Detect(ctx context.Context) (*position.RawDetection, error)
}

// Bundle is the complete computed output for one (position, assumed mover)
// pair. Bundles are immutable once produced and replaced wholesale on
// recomputation, never mutated.
type Bundle struct {
	Position position.Position `json:"position"`
	Mover    position.Color    `json:"-"`

	// ScoreCP is White-relative centipawns regardless of Mover, so scores
	// stay comparable across perspectives and recomputations. Mate scores
	// are mapped near ±mateScoreCP.
	ScoreCP  int      `json:"score_cp"`
	BestMove string   `json:"best_move,omitempty"` // UCI
	PV       []string `json:"pv,omitempty"`
	Depth    int      `json:"depth,omitempty"`

	Description string        `json:"description"`
	History     []history.Ref `json:"history,omitempty"`

	// Degraded marks a bundle produced with one or more source collaborators
	// unavailable; Notes says which. Served as lower-confidence commentary,
	// never as a hard failure.
	Degraded bool     `json:"degraded"`
	Notes    []string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// MoverName returns "white" or "black" for JSON/status surfaces.
func (b *Bundle) MoverName() string { return b.Mover.String() }

// Entry associates the current position with its two perspective bundles.
// Exactly one entry is current at a time; superseded entries are discarded.
type Entry struct {
	Position    position.Position
	Version     uint64
	CommittedAt time.Time

	white *Bundle
	black *Bundle
}

// Bundle returns the bundle for the given assumed mover.
func (e *Entry) Bundle(mover position.Color) *Bundle {
	if mover == position.Black {
		return e.black
	}
	return e.white
}
