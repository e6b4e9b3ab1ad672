package analysis

import (
	"strings"
	"time"

	"github.com/onnwee/chess-companion/position"
	"github.com/onnwee/chess-companion/telemetry"
)

// BroadcastContext names the two players on the broadcast, when known.
// Either or both fields may be empty.
type BroadcastContext struct {
	White string `json:"white,omitempty"`
	Black string `json:"black,omitempty"`
}

// ResolveInfo reports which perspective was served and why. Source is one of
// "player_name", "color_phrase", "default_white".
type ResolveInfo struct {
	Perspective string `json:"perspective"`
	Source      string `json:"source"`
	Note        string `json:"note,omitempty"`
	Version     uint64 `json:"version"`
}

// Resolver serves cached bundles to user queries. Perspective selection is
// best effort: the signals (player names in the question, a color phrase)
// are cheap but not authoritative, so an ambiguous query defaults to White
// with an explicit note rather than guessing silently.
type Resolver struct {
	Store *Store
}

// Resolve picks the perspective for query and returns its bundle. It never
// blocks on an in-flight computation, since a stale-but-present entry is a
// valid answer. When nothing has been committed yet it returns ErrNoAnalysis,
// so callers signal "please wait" instead of receiving a guessed perspective.
func (r *Resolver) Resolve(query string, bcast BroadcastContext) (*Bundle, ResolveInfo, error) {
	start := time.Now()
	entry := r.Store.Current()
	if entry == nil {
		telemetry.QueriesPending.Inc()
		return nil, ResolveInfo{}, ErrNoAnalysis
	}
	mover, source, note := pickPerspective(query, bcast)
	info := ResolveInfo{
		Perspective: mover.String(),
		Source:      source,
		Note:        note,
		Version:     entry.Version,
	}
	telemetry.ObserveQueryServed(source)
	telemetry.ResolveDuration.Observe(time.Since(start).Seconds())
	return entry.Bundle(mover), info, nil
}

func pickPerspective(query string, bcast BroadcastContext) (position.Color, string, string) {
	q := strings.ToLower(query)

	whiteNamed := nameMatches(q, bcast.White)
	blackNamed := nameMatches(q, bcast.Black)
	if whiteNamed != blackNamed {
		if whiteNamed {
			return position.White, "player_name", ""
		}
		return position.Black, "player_name", ""
	}

	whiteWord := strings.Contains(q, "white")
	blackWord := strings.Contains(q, "black")
	if whiteWord != blackWord {
		if whiteWord {
			return position.White, "color_phrase", ""
		}
		return position.Black, "color_phrase", ""
	}

	return position.White, "default_white", "perspective ambiguous; defaulting to White"
}

// nameMatches checks the query against a player's full name or any name
// token of three or more characters ("magnus", "carlsen").
func nameMatches(q, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	if strings.Contains(q, name) {
		return true
	}
	for _, tok := range strings.Fields(name) {
		if len(tok) >= 3 && strings.Contains(q, tok) {
			return true
		}
	}
	return false
}
