// Package engine adapts an external UCI chess engine subprocess as the
// evaluation collaborator. The engine is assumed crash-prone on malformed
// input (a kingless FEN can terminate the process), so callers must only
// pass positions that survived position.Normalize. A crashed or wedged
// process is killed and restarted on the next call rather than surfaced as a
// permanent failure.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/chess-companion/telemetry"
)

// ErrUnavailable marks engine process failures (spawn error, crash mid-search,
// timeout). Callers retry once with a shorter limit, then degrade.
var ErrUnavailable = errors.New("engine unavailable")

// Limit bounds one evaluate call. Zero fields fall back to the engine's
// defaults; both set means "go depth D movetime M".
type Limit struct {
	Depth    int
	MoveTime time.Duration
}

// Halve returns a cheaper limit for the retry-after-failure path.
func (l Limit) Halve() Limit {
	h := Limit{Depth: l.Depth / 2, MoveTime: l.MoveTime / 2}
	if l.Depth > 0 && h.Depth < 4 {
		h.Depth = 4
	}
	if l.MoveTime > 0 && h.MoveTime < 200*time.Millisecond {
		h.MoveTime = 200 * time.Millisecond
	}
	return h
}

// Result is one engine evaluation. ScoreCP and Mate are mover-relative, as
// reported on the UCI wire; perspective normalization is the analyzer's job.
type Result struct {
	BestMove string   // UCI, e.g. "e2e4"
	ScoreCP  int      // centipawns from the mover's point of view
	Mate     int      // moves to mate (mover-relative), 0 = none reported
	Depth    int
	Nodes    int64
	NPS      int64
	PV       []string
}

// UCI wraps one engine subprocess. A single engine session handles one
// search at a time, so calls are serialized with a mutex; the dual
// perspectives of one analysis queue behind each other here, which is fine
// at commentary depths.
type UCI struct {
	path string
	args []string

	mu   sync.Mutex
	proc *process
}

// New returns an adapter for the engine binary at path. The process is
// started lazily on first use.
func New(path string, args ...string) *UCI {
	return &UCI{path: path, args: args}
}

type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
}

func startProcess(ctx context.Context, path string, args []string) (*process, error) {
	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrUnavailable, path, err)
	}
	p := &process{cmd: cmd, stdin: stdin, lines: make(chan string, 64)}
	go func() {
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			p.lines <- sc.Text()
		}
		close(p.lines)
	}()

	if err := p.send("uci"); err != nil {
		p.kill()
		return nil, err
	}
	if _, err := p.waitFor(ctx, func(s string) bool { return s == "uciok" }); err != nil {
		p.kill()
		return nil, fmt.Errorf("uci handshake: %w", err)
	}
	if err := p.send("isready"); err != nil {
		p.kill()
		return nil, err
	}
	if _, err := p.waitFor(ctx, func(s string) bool { return s == "readyok" }); err != nil {
		p.kill()
		return nil, fmt.Errorf("uci isready: %w", err)
	}
	return p, nil
}

func (p *process) send(cmd string) error {
	if _, err := io.WriteString(p.stdin, cmd+"\n"); err != nil {
		return fmt.Errorf("%w: write %q: %v", ErrUnavailable, cmd, err)
	}
	return nil
}

// waitFor consumes lines until match returns true. A closed lines channel
// means the process died mid-conversation.
func (p *process) waitFor(ctx context.Context, match func(string) bool) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case line, ok := <-p.lines:
			if !ok {
				return "", fmt.Errorf("%w: process exited", ErrUnavailable)
			}
			if match(line) {
				return line, nil
			}
		}
	}
}

func (p *process) kill() {
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
}

func (u *UCI) ensure(ctx context.Context) (*process, error) {
	if u.proc != nil {
		return u.proc, nil
	}
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	p, err := startProcess(hctx, u.path, u.args)
	if err != nil {
		telemetry.SetEngineUp(false)
		return nil, err
	}
	u.proc = p
	telemetry.SetEngineUp(true)
	return p, nil
}

// drop discards the current process after a failure so the next call
// restarts fresh.
func (u *UCI) drop() {
	if u.proc != nil {
		u.proc.kill()
		u.proc = nil
		telemetry.SetEngineUp(false)
		telemetry.EngineRestarts.Inc()
	}
}

// Evaluate runs one search over a full FEN and parses the engine's info
// stream up to "bestmove". The ctx deadline is the hard cap: there is no
// clean way to interrupt a UCI search mid-read, so on timeout the process is
// killed and the call fails with ErrUnavailable.
func (u *UCI) Evaluate(ctx context.Context, fen string, limit Limit) (Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	p, err := u.ensure(ctx)
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	if err := p.send("position fen " + fen); err != nil {
		u.drop()
		return Result{}, err
	}
	if err := p.send(goCommand(limit)); err != nil {
		u.drop()
		return Result{}, err
	}

	var res Result
	for {
		var line string
		line, err = p.waitFor(ctx, func(string) bool { return true })
		if err != nil {
			u.drop()
			return Result{}, err
		}
		if strings.HasPrefix(line, "info ") {
			parseInfo(line, &res)
			continue
		}
		if strings.HasPrefix(line, "bestmove") {
			fields := strings.Fields(line)
			if len(fields) > 1 {
				res.BestMove = fields[1]
			}
			break
		}
	}
	telemetry.EngineEvaluateDuration.Observe(time.Since(start).Seconds())
	if res.BestMove == "" || res.BestMove == "(none)" {
		return Result{}, fmt.Errorf("%w: no best move for %q", ErrUnavailable, fen)
	}
	return res, nil
}

// Ping checks the engine session is responsive (used by readiness checks).
func (u *UCI) Ping(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	p, err := u.ensure(ctx)
	if err != nil {
		return err
	}
	if err := p.send("isready"); err != nil {
		u.drop()
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := p.waitFor(pctx, func(s string) bool { return s == "readyok" }); err != nil {
		u.drop()
		return err
	}
	return nil
}

// Close terminates the subprocess.
func (u *UCI) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.proc != nil {
		_ = u.proc.send("quit")
		u.proc.kill()
		u.proc = nil
		telemetry.SetEngineUp(false)
	}
}

func goCommand(limit Limit) string {
	var b strings.Builder
	b.WriteString("go")
	if limit.Depth > 0 {
		fmt.Fprintf(&b, " depth %d", limit.Depth)
	}
	if limit.MoveTime > 0 {
		fmt.Fprintf(&b, " movetime %d", limit.MoveTime.Milliseconds())
	}
	if limit.Depth == 0 && limit.MoveTime == 0 {
		b.WriteString(" depth 12")
	}
	return b.String()
}

// parseInfo folds one "info ..." line into res, keeping the deepest data
// seen. Unknown tokens are skipped; engines vary in what they emit.
func parseInfo(line string, res *Result) {
	fields := strings.Fields(line)
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "depth":
			if i+1 < len(fields) {
				if n, err := strconv.Atoi(fields[i+1]); err == nil && n >= res.Depth {
					res.Depth = n
				}
			}
		case "score":
			if i+2 < len(fields) {
				n, err := strconv.Atoi(fields[i+2])
				if err != nil {
					continue
				}
				switch fields[i+1] {
				case "cp":
					res.ScoreCP = n
					res.Mate = 0
				case "mate":
					res.Mate = n
				}
			}
		case "nodes":
			if i+1 < len(fields) {
				res.Nodes, _ = strconv.ParseInt(fields[i+1], 10, 64)
			}
		case "nps":
			if i+1 < len(fields) {
				res.NPS, _ = strconv.ParseInt(fields[i+1], 10, 64)
			}
		case "pv":
			if i+1 < len(fields) {
				res.PV = append([]string(nil), fields[i+1:]...)
			}
			return
		}
	}
}
