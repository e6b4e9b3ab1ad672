// Package history implements the historical-similarity collaborator: a
// Postgres archive of prior games keyed by per-ply piece placement, searched
// first by exact placement and then by material signature. Results feed the
// commentary synthesis ("this structure appeared in ...") and are always
// best-effort: a search failure degrades the bundle, never the pipeline.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/onnwee/chess-companion/position"
)

// Ref points at a prior game whose position resembles the queried one.
type Ref struct {
	GameRef    string  `json:"game_ref"` // "White–Black, Event YYYY"
	White      string  `json:"white"`
	Black      string  `json:"black"`
	Outcome    string  `json:"outcome"` // "1-0", "0-1", "1/2-1/2"
	Ply        int     `json:"ply"`
	Similarity float64 `json:"similarity"` // 1.0 exact placement, less for material-only
}

// Game is one archived game header.
type Game struct {
	White    string
	Black    string
	Outcome  string
	Event    string
	PlayedAt time.Time
}

// Archive is the Postgres-backed implementation.
type Archive struct {
	db *sql.DB
}

// NewArchive wraps an open database handle.
func NewArchive(db *sql.DB) *Archive { return &Archive{db: db} }

const (
	exactSimilarity    = 1.0
	materialSimilarity = 0.6
)

// Search returns up to topK references, exact placement matches first, then
// distinct games sharing the material signature. Exact matches of the same
// game are deduplicated to the earliest ply.
func (a *Archive) Search(ctx context.Context, pos position.Position, topK int) ([]Ref, error) {
	if topK <= 0 {
		topK = 3
	}
	refs := make([]Ref, 0, topK)

	rows, err := a.db.QueryContext(ctx, `
		SELECT g.white, g.black, g.outcome, g.event, EXTRACT(YEAR FROM g.played_at)::int, MIN(p.ply)
		FROM game_positions p JOIN games g ON g.id = p.game_id
		WHERE p.placement = $1
		GROUP BY g.id, g.white, g.black, g.outcome, g.event, g.played_at
		ORDER BY MIN(p.ply) ASC, g.played_at DESC
		LIMIT $2`, pos.Placement(), topK)
	if err != nil {
		return nil, fmt.Errorf("exact search: %w", err)
	}
	seen := map[string]bool{}
	if err := scanRefs(rows, exactSimilarity, &refs, seen); err != nil {
		return nil, err
	}

	if len(refs) < topK {
		rows, err := a.db.QueryContext(ctx, `
			SELECT g.white, g.black, g.outcome, g.event, EXTRACT(YEAR FROM g.played_at)::int, MIN(p.ply)
			FROM game_positions p JOIN games g ON g.id = p.game_id
			WHERE p.signature = $1 AND p.placement <> $2
			GROUP BY g.id, g.white, g.black, g.outcome, g.event, g.played_at
			ORDER BY g.played_at DESC
			LIMIT $3`, pos.MaterialSignature(), pos.Placement(), topK-len(refs))
		if err != nil {
			return nil, fmt.Errorf("signature search: %w", err)
		}
		if err := scanRefs(rows, materialSimilarity, &refs, seen); err != nil {
			return nil, err
		}
	}
	return refs, nil
}

func scanRefs(rows *sql.Rows, similarity float64, refs *[]Ref, seen map[string]bool) error {
	defer rows.Close()
	for rows.Next() {
		var r Ref
		var event string
		var year int
		if err := rows.Scan(&r.White, &r.Black, &r.Outcome, &event, &year, &r.Ply); err != nil {
			return fmt.Errorf("scan ref: %w", err)
		}
		r.GameRef = fmt.Sprintf("%s–%s, %s %d", r.White, r.Black, event, year)
		if seen[r.GameRef] {
			continue
		}
		seen[r.GameRef] = true
		r.Similarity = similarity
		*refs = append(*refs, r)
	}
	return rows.Err()
}

// AddGame inserts a game header plus its per-ply placements in one
// transaction. Placements are stored with their material signature so the
// signature search never recomputes it at query time.
func (a *Archive) AddGame(ctx context.Context, g Game, placements []position.Position) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var gameID int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO games (white, black, outcome, event, played_at)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		g.White, g.Black, g.Outcome, g.Event, g.PlayedAt).Scan(&gameID); err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	for ply, pos := range placements {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO game_positions (game_id, ply, placement, signature)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (game_id, ply) DO UPDATE SET placement=EXCLUDED.placement, signature=EXCLUDED.signature`,
			gameID, ply, pos.Placement(), pos.MaterialSignature()); err != nil {
			return fmt.Errorf("insert ply %d: %w", ply, err)
		}
	}
	return tx.Commit()
}
