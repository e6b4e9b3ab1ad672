// Package broadcast tracks who is playing White and Black on the watched
// stream. The resolver uses these names to map "what should Carlsen do?" to
// a perspective. Names come from configuration, optionally kept fresh by a
// Twitch chat watcher that accepts moderator announcements, since casters
// rotate boards mid-broadcast far more often than anyone edits an env file.
package broadcast

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Players holds the two player names; either may be empty when unknown.
type Players struct {
	White string
	Black string
}

// Source provides the current players.
type Source interface {
	Players() Players
}

// Static serves fixed, configured players.
type Static Players

func (s Static) Players() Players { return Players(s) }

// ChatWatcher joins the broadcast's Twitch chat and updates the players when
// a moderator or the broadcaster announces them with
//
//	!players <White Name> vs <Black Name>
//
// Until an announcement arrives, the configured fallback is served.
type ChatWatcher struct {
	mu       sync.RWMutex
	learned  *Players
	fallback Players
}

// NewChatWatcher returns a watcher serving fallback until chat teaches it
// otherwise.
func NewChatWatcher(fallback Players) *ChatWatcher {
	return &ChatWatcher{fallback: fallback}
}

// Players returns the most recently announced players, or the fallback.
func (w *ChatWatcher) Players() Players {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.learned != nil {
		return *w.learned
	}
	return w.fallback
}

func (w *ChatWatcher) set(p Players) {
	w.mu.Lock()
	w.learned = &p
	w.mu.Unlock()
}

// Run connects to channel's chat and blocks until ctx is canceled. With
// empty credentials it connects anonymously, which is all reading requires.
func (w *ChatWatcher) Run(ctx context.Context, channel, username, oauthToken string) {
	if channel == "" {
		slog.Info("chat watcher disabled: no channel configured")
		return
	}
	var client *twitch.Client
	if username != "" && oauthToken != "" {
		client = twitch.NewClient(username, oauthToken)
	} else {
		client = twitch.NewAnonymousClient()
	}

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if !isPrivileged(msg) {
			return
		}
		if p, ok := parsePlayersCommand(msg.Message); ok {
			w.set(p)
			slog.Info("players updated from chat",
				slog.String("white", p.White),
				slog.String("black", p.Black),
				slog.String("by", msg.User.Name))
		}
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = client.Disconnect()
		close(done)
	}()

	client.Join(channel)
	slog.Info("chat watcher joined", slog.String("channel", channel))
	if err := client.Connect(); err != nil && ctx.Err() == nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}

func isPrivileged(msg twitch.PrivateMessage) bool {
	_, mod := msg.User.Badges["moderator"]
	_, owner := msg.User.Badges["broadcaster"]
	return mod || owner
}

// parsePlayersCommand parses "!players A vs B". The separator is matched
// case-insensitively; names keep their original casing.
func parsePlayersCommand(text string) (Players, bool) {
	const prefix = "!players "
	if !strings.HasPrefix(strings.ToLower(text), prefix) {
		return Players{}, false
	}
	rest := strings.TrimSpace(text[len(prefix):])
	idx := strings.Index(strings.ToLower(rest), " vs ")
	if idx < 0 {
		return Players{}, false
	}
	white := strings.TrimSpace(rest[:idx])
	black := strings.TrimSpace(rest[idx+4:])
	if white == "" || black == "" {
		return Players{}, false
	}
	return Players{White: white, Black: black}, true
}
