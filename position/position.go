// Package position normalizes raw board detections from the vision sidecar
// into canonical positions usable as cache keys.
//
// Identity is piece placement only. Side-to-move is deliberately excluded:
// it cannot be observed reliably from a single video frame, so downstream
// analysis computes both perspectives instead (see the analysis package).
// Castling rights and en passant are likewise unobservable from one frame;
// assembled FENs carry "-" for both, which is accepted as a commentary-grade
// approximation.
package position

import (
	"fmt"
	"strings"
)

// Color is an assumed side to move used to frame one analysis pass.
type Color int

const (
	White Color = iota
	Black
)

// String returns "white" or "black".
func (c Color) String() string {
	if c == Black {
		return "black"
	}
	return "white"
}

// Other returns the opposite color.
func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) fenField() string {
	if c == Black {
		return "b"
	}
	return "w"
}

// Position is a canonical board-only FEN placement field, e.g.
// "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR". Two positions are the same
// iff the strings are equal. A Position produced by Normalize has passed
// minimal legality validation and is safe to hand to the engine.
type Position string

// FEN assembles a full FEN string assuming the given side to move.
// Castling and en passant are reported as unknown ("-").
func (p Position) FEN(mover Color) string {
	return string(p) + " " + mover.fenField() + " - - 0 1"
}

// Placement returns the raw placement field.
func (p Position) Placement() string { return string(p) }

// RawDetection is one frame's worth of board state from the vision
// collaborator. Exactly one of Grid or Placement is expected to be set;
// Placement wins when both are present.
//
// Grid is rank 8 first (Grid[0][0] = a8), 0 for an empty square, otherwise a
// FEN piece letter (PNBRQK uppercase for White, pnbrqk for Black).
type RawDetection struct {
	Grid      [8][8]byte `json:"grid,omitempty"`
	Placement string     `json:"placement,omitempty"`
}

// Normalize converts a raw detection into a canonical Position, validating
// minimal legality on the way. Vision output is noisy: hallucinated pieces,
// missing kings and malformed ranks are all expected inputs here, and an
// invalid placement must never become a cache key or reach the engine (a UCI
// engine fed a kingless position can terminate outright). All failures wrap
// ErrInvalidPosition.
func Normalize(raw RawDetection) (Position, error) {
	placement := raw.Placement
	if placement == "" {
		placement = gridToPlacement(raw.Grid)
	}
	if err := validatePlacement(placement); err != nil {
		return "", err
	}
	return Position(placement), nil
}

func gridToPlacement(grid [8][8]byte) string {
	var b strings.Builder
	for r := 0; r < 8; r++ {
		if r > 0 {
			b.WriteByte('/')
		}
		empty := 0
		for f := 0; f < 8; f++ {
			sq := grid[r][f]
			if sq == 0 || sq == ' ' || sq == '.' {
				empty++
				continue
			}
			if empty > 0 {
				b.WriteByte(byte('0' + empty))
				empty = 0
			}
			b.WriteByte(sq)
		}
		if empty > 0 {
			b.WriteByte(byte('0' + empty))
		}
	}
	return b.String()
}

func validatePlacement(placement string) error {
	ranks := strings.Split(placement, "/")
	if len(ranks) != 8 {
		return fmt.Errorf("%w: %d ranks", ErrInvalidPosition, len(ranks))
	}
	counts := map[byte]int{}
	for i, rank := range ranks {
		width := 0
		for j := 0; j < len(rank); j++ {
			ch := rank[j]
			switch {
			case ch >= '1' && ch <= '8':
				width += int(ch - '0')
			case strings.IndexByte("PNBRQKpnbrqk", ch) >= 0:
				width++
				counts[ch]++
				if (ch == 'P' || ch == 'p') && (i == 0 || i == 7) {
					return fmt.Errorf("%w: pawn on rank %d", ErrInvalidPosition, 8-i)
				}
			default:
				return fmt.Errorf("%w: bad piece char %q", ErrInvalidPosition, ch)
			}
		}
		if width != 8 {
			return fmt.Errorf("%w: rank %d has width %d", ErrInvalidPosition, 8-i, width)
		}
	}
	if counts['K'] != 1 || counts['k'] != 1 {
		return fmt.Errorf("%w: kings white=%d black=%d", ErrInvalidPosition, counts['K'], counts['k'])
	}
	if counts['P'] > 8 || counts['p'] > 8 {
		return fmt.Errorf("%w: too many pawns", ErrInvalidPosition)
	}
	white := counts['P'] + counts['N'] + counts['B'] + counts['R'] + counts['Q'] + counts['K']
	black := counts['p'] + counts['n'] + counts['b'] + counts['r'] + counts['q'] + counts['k']
	if white > 16 || black > 16 {
		return fmt.Errorf("%w: piece count white=%d black=%d", ErrInvalidPosition, white, black)
	}
	return nil
}

// MaterialSignature returns a compact material census, e.g. "KQRRBNPPPP:kqrrbbnppp"
// (white pieces then black, each sorted by descending value). Used by the
// historical archive to find material-similar prior positions cheaply.
func (p Position) MaterialSignature() string {
	counts := map[byte]int{}
	for i := 0; i < len(p); i++ {
		ch := p[i]
		if strings.IndexByte("PNBRQKpnbrqk", ch) >= 0 {
			counts[ch]++
		}
	}
	var b strings.Builder
	for _, ch := range []byte{'K', 'Q', 'R', 'B', 'N', 'P'} {
		for n := 0; n < counts[ch]; n++ {
			b.WriteByte(ch)
		}
	}
	b.WriteByte(':')
	for _, ch := range []byte{'k', 'q', 'r', 'b', 'n', 'p'} {
		for n := 0; n < counts[ch]; n++ {
			b.WriteByte(ch)
		}
	}
	return b.String()
}
