// Package describe turns position facts (engine line, historical echoes)
// into natural-language commentary. The primary path is a Gemini call; a
// deterministic template rendering is always available as the fallback so a
// rate-limited or unreachable LLM degrades a bundle instead of failing it.
package describe

import (
	"context"
	"fmt"
	"strings"

	"github.com/corentings/chess"

	"github.com/onnwee/chess-companion/history"
	"github.com/onnwee/chess-companion/position"
)

// Facts is everything a describer may draw on for one perspective. Engine
// fields are only meaningful when HaveEngine is true. ScoreCP and Mate are
// White-relative.
type Facts struct {
	Position    position.Position
	Mover       position.Color
	HaveEngine  bool
	ScoreCP     int
	Mate        int
	BestMoveUCI string
	PV          []string
	Depth       int
	History     []history.Ref
}

// Describer synthesizes commentary from facts.
type Describer interface {
	Synthesize(ctx context.Context, f Facts) (string, error)
}

// Render produces the deterministic template description. It never fails
// and is valid with any subset of sources present, which is what makes it
// safe as the degradation floor.
func Render(f Facts) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s to move.", title(f.Mover.String()))

	if f.HaveEngine {
		move := f.BestMoveUCI
		if san := sanMove(f.Position.FEN(f.Mover), f.BestMoveUCI); san != "" {
			move = san
		}
		fmt.Fprintf(&b, " The engine suggests %s", move)
		if f.Depth > 0 {
			fmt.Fprintf(&b, " at depth %d", f.Depth)
		}
		b.WriteString("; ")
		b.WriteString(evalPhrase(f.ScoreCP, f.Mate))
		b.WriteString(".")
	} else {
		b.WriteString(" Engine analysis is unavailable for this position; commentary is based on the board alone.")
	}

	for i, ref := range f.History {
		if i >= 2 {
			break
		}
		if ref.Similarity >= 1.0 {
			fmt.Fprintf(&b, " This exact position occurred in %s (%s).", ref.GameRef, ref.Outcome)
		} else {
			fmt.Fprintf(&b, " A similar material balance appeared in %s (%s).", ref.GameRef, ref.Outcome)
		}
	}
	return b.String()
}

// Template is Render as a Describer, for deployments without an LLM key.
type Template struct{}

func (Template) Synthesize(_ context.Context, f Facts) (string, error) {
	return Render(f), nil
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// evalPhrase words a White-relative score. Bands are coarse on purpose; this
// is commentary, not a scoreboard.
func evalPhrase(scoreCP, mate int) string {
	if mate > 0 {
		return fmt.Sprintf("White has a forced mate in %d", mate)
	}
	if mate < 0 {
		return fmt.Sprintf("Black has a forced mate in %d", -mate)
	}
	side := "White"
	cp := scoreCP
	if cp < 0 {
		side = "Black"
		cp = -cp
	}
	pawns := float64(scoreCP) / 100
	switch {
	case cp < 30:
		return fmt.Sprintf("the position is roughly balanced (%+.2f)", pawns)
	case cp < 100:
		return fmt.Sprintf("%s is slightly better (%+.2f)", side, pawns)
	case cp < 300:
		return fmt.Sprintf("%s is clearly better (%+.2f)", side, pawns)
	default:
		return fmt.Sprintf("%s is winning (%+.2f)", side, pawns)
	}
}

// sanMove renders a UCI move in standard algebraic notation for the given
// full FEN. Returns "" when the move or FEN does not parse; callers fall
// back to the raw UCI string.
func sanMove(fen, uci string) string {
	if uci == "" {
		return ""
	}
	fenOpt, err := chess.FEN(fen)
	if err != nil {
		return ""
	}
	game := chess.NewGame(fenOpt)
	move, err := chess.UCINotation{}.Decode(game.Position(), uci)
	if err != nil {
		return ""
	}
	return chess.AlgebraicNotation{}.Encode(game.Position(), move)
}
