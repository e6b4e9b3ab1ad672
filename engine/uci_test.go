package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestParseInfo(t *testing.T) {
	var res Result
	parseInfo("info depth 18 seldepth 24 score cp 34 nodes 123456 nps 987654 pv e2e4 e7e5 g1f3", &res)
	if res.Depth != 18 || res.ScoreCP != 34 || res.Nodes != 123456 || res.NPS != 987654 {
		t.Fatalf("parsed %+v", res)
	}
	if len(res.PV) != 3 || res.PV[0] != "e2e4" {
		t.Fatalf("pv = %v", res.PV)
	}
}

func TestParseInfoMate(t *testing.T) {
	var res Result
	parseInfo("info depth 12 score mate -3 pv g8h8", &res)
	if res.Mate != -3 {
		t.Fatalf("mate = %d", res.Mate)
	}
	// A later cp score clears a previous mate report.
	parseInfo("info depth 13 score cp 150", &res)
	if res.Mate != 0 || res.ScoreCP != 150 {
		t.Fatalf("after cp line: %+v", res)
	}
}

func TestParseInfoShallowDepthIgnored(t *testing.T) {
	var res Result
	parseInfo("info depth 20 score cp 10", &res)
	parseInfo("info depth 5 currmove e2e4", &res)
	if res.Depth != 20 {
		t.Fatalf("depth regressed to %d", res.Depth)
	}
}

func TestGoCommand(t *testing.T) {
	if got := goCommand(Limit{Depth: 16}); got != "go depth 16" {
		t.Fatalf("got %q", got)
	}
	if got := goCommand(Limit{MoveTime: 1500 * time.Millisecond}); got != "go movetime 1500" {
		t.Fatalf("got %q", got)
	}
	if got := goCommand(Limit{}); got != "go depth 12" {
		t.Fatalf("default limit: %q", got)
	}
}

func TestLimitHalve(t *testing.T) {
	h := Limit{Depth: 16, MoveTime: 2 * time.Second}.Halve()
	if h.Depth != 8 || h.MoveTime != time.Second {
		t.Fatalf("halved = %+v", h)
	}
	// Floors keep the retry meaningful.
	h = Limit{Depth: 6, MoveTime: 300 * time.Millisecond}.Halve()
	if h.Depth != 4 || h.MoveTime != 200*time.Millisecond {
		t.Fatalf("floored = %+v", h)
	}
}

// fakeEngine writes a shell script speaking just enough UCI for the adapter.
func fakeEngine(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine script requires a POSIX shell")
	}
	script := `#!/bin/sh
while read line; do
  case "$line" in
    uci) echo "id name faker"; echo "uciok" ;;
    isready) echo "readyok" ;;
    go*) echo "info depth 10 score cp -42 nodes 1000 nps 50000 pv e7e5 g1f3"
         echo "bestmove e7e5" ;;
    quit) exit 0 ;;
  esac
done
`
	path := filepath.Join(t.TempDir(), "fake-engine")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEvaluateAgainstFakeEngine(t *testing.T) {
	u := New(fakeEngine(t))
	defer u.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := u.Evaluate(ctx, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b - - 0 1", Limit{Depth: 10})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.BestMove != "e7e5" || res.ScoreCP != -42 || res.Depth != 10 {
		t.Fatalf("result = %+v", res)
	}
	if err := u.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestEvaluateMissingBinary(t *testing.T) {
	u := New(filepath.Join(t.TempDir(), "no-such-engine"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := u.Evaluate(ctx, "8/8/8/8/8/8/8/K6k w - - 0 1", Limit{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
