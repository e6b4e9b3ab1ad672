package describe

import (
	"context"
	"strings"
	"testing"

	"github.com/onnwee/chess-companion/history"
	"github.com/onnwee/chess-companion/position"
)

const startingPlacement = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR"

func TestRenderWithEngine(t *testing.T) {
	f := Facts{
		Position:    position.Position(startingPlacement),
		Mover:       position.White,
		HaveEngine:  true,
		ScoreCP:     25,
		BestMoveUCI: "e2e4",
		Depth:       14,
	}
	got := Render(f)
	if !strings.HasPrefix(got, "White to move.") {
		t.Fatalf("got %q", got)
	}
	// e2e4 from the start renders as SAN.
	if !strings.Contains(got, "suggests e4") {
		t.Fatalf("expected SAN move in %q", got)
	}
	if !strings.Contains(got, "roughly balanced") {
		t.Fatalf("expected eval phrase in %q", got)
	}
}

func TestRenderDeterministic(t *testing.T) {
	f := Facts{Position: position.Position(startingPlacement), Mover: position.Black, HaveEngine: true, ScoreCP: -180, BestMoveUCI: "e7e5", Depth: 10}
	if Render(f) != Render(f) {
		t.Fatal("render must be deterministic")
	}
	if !strings.Contains(Render(f), "Black is clearly better") {
		t.Fatalf("got %q", Render(f))
	}
}

func TestRenderWithoutEngine(t *testing.T) {
	got := Render(Facts{Position: position.Position(startingPlacement), Mover: position.Black})
	if !strings.Contains(got, "Engine analysis is unavailable") {
		t.Fatalf("got %q", got)
	}
	if !strings.HasPrefix(got, "Black to move.") {
		t.Fatalf("got %q", got)
	}
}

func TestRenderHistory(t *testing.T) {
	f := Facts{
		Position: position.Position(startingPlacement),
		Mover:    position.White,
		History: []history.Ref{
			{GameRef: "Kasparov–Topalov, Wijk aan Zee 1999", Outcome: "1-0", Similarity: 1.0},
			{GameRef: "Karpov–Kasparov, Moscow 1985", Outcome: "0-1", Similarity: 0.6},
			{GameRef: "Third–Game, Nowhere 2000", Outcome: "1/2-1/2", Similarity: 0.6},
		},
	}
	got := Render(f)
	if !strings.Contains(got, "This exact position occurred in Kasparov–Topalov") {
		t.Fatalf("got %q", got)
	}
	if !strings.Contains(got, "similar material balance appeared in Karpov–Kasparov") {
		t.Fatalf("got %q", got)
	}
	if strings.Contains(got, "Third–Game") {
		t.Fatalf("history refs should cap at two: %q", got)
	}
}

func TestEvalPhraseMate(t *testing.T) {
	if got := evalPhrase(0, 3); got != "White has a forced mate in 3" {
		t.Fatalf("got %q", got)
	}
	if got := evalPhrase(0, -2); got != "Black has a forced mate in 2" {
		t.Fatalf("got %q", got)
	}
}

func TestSanMoveFallback(t *testing.T) {
	// Unparseable move falls back to "", letting callers keep the UCI text.
	if got := sanMove(position.Position(startingPlacement).FEN(position.White), "zz99"); got != "" {
		t.Fatalf("got %q", got)
	}
	if got := sanMove("not a fen", "e2e4"); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestTemplateDescriber(t *testing.T) {
	got, err := Template{}.Synthesize(context.Background(), Facts{Position: position.Position(startingPlacement), Mover: position.White})
	if err != nil {
		t.Fatal(err)
	}
	if got == "" {
		t.Fatal("empty description")
	}
}
