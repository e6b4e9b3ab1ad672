package analysis

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chess-companion/db"
	"github.com/onnwee/chess-companion/position"
	"github.com/onnwee/chess-companion/telemetry"
)

// Coordinator drives the pipeline: it polls the vision collaborator,
// decides whether a detection is a genuine position change, and spawns at
// most one dual-perspective analysis per change. Detection is decoupled
// from computation: analyses run in their own goroutine so a slow engine
// never delays the next poll tick, and a failed or invalid frame only costs
// a log line.
type Coordinator struct {
	Detector Detector
	Store    *Store
	Analyzer *Analyzer
	Interval time.Duration
	DB       *sql.DB // optional; job heartbeats in the kv table

	pollCycles atomic.Uint64
	invalid    atomic.Uint64
	changes    atomic.Uint64
	lastDetect atomic.Int64 // unix nano, 0 = never
	lastChange atomic.Int64
}

// Stats is a point-in-time snapshot for the status endpoint.
type Stats struct {
	PollCycles        uint64    `json:"poll_cycles"`
	InvalidDetections uint64    `json:"invalid_detections"`
	PositionChanges   uint64    `json:"position_changes"`
	LastDetection     time.Time `json:"last_detection,omitzero"`
	LastChange        time.Time `json:"last_change,omitzero"`
}

// Stats returns current counters.
func (c *Coordinator) Stats() Stats {
	s := Stats{
		PollCycles:        c.pollCycles.Load(),
		InvalidDetections: c.invalid.Load(),
		PositionChanges:   c.changes.Load(),
	}
	if n := c.lastDetect.Load(); n > 0 {
		s.LastDetection = time.Unix(0, n).UTC()
	}
	if n := c.lastChange.Load(); n > 0 {
		s.LastChange = time.Unix(0, n).UTC()
	}
	return s
}

// Run polls until ctx is canceled. An immediate first tick avoids waiting a
// full interval after boot.
func (c *Coordinator) Run(ctx context.Context) {
	interval := c.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	slog.Info("position watcher starting", slog.Duration("interval", interval))
	c.tick(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("position watcher stopped")
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	telemetry.PollCycles.Inc()
	c.pollCycles.Add(1)
	if cur := c.Store.Current(); cur != nil {
		telemetry.SetEntryAge(time.Since(cur.CommittedAt))
	}
	if c.DB != nil {
		db.Heartbeat(ctx, c.DB, "job_detect_last")
	}

	raw, err := c.Detector.Detect(ctx)
	if err != nil {
		telemetry.DetectionErrors.Inc()
		slog.Warn("vision detect", slog.Any("err", err), slog.String("component", "detect"))
		return
	}
	if raw == nil {
		slog.Debug("no frame available", slog.String("component", "detect"))
		return
	}
	c.lastDetect.Store(time.Now().UnixNano())

	pos, err := position.Normalize(*raw)
	if err != nil {
		// Vision noise is expected and frequent: log, count, drop the frame.
		telemetry.DetectionsInvalid.Inc()
		c.invalid.Add(1)
		slog.Debug("invalid detection dropped", slog.Any("err", err), slog.String("component", "detect"))
		return
	}

	// Common case on every tick: nothing moved. Structural equality only.
	if cur := c.Store.Current(); cur != nil && cur.Position == pos {
		return
	}
	ticket := c.Store.BeginUpdate(pos)
	if ticket == nil {
		slog.Debug("update already current or in flight", slog.String("component", "detect"))
		return
	}
	telemetry.PositionChanges.Inc()
	c.changes.Add(1)
	c.lastChange.Store(time.Now().UnixNano())

	actx := telemetry.WithCorrelation(ctx, uuid.NewString())
	go c.runAnalysis(actx, ticket)
}

// runAnalysis computes and commits one ticket. Panics are contained here so
// a collaborator bug can never take down the poll loop.
func (c *Coordinator) runAnalysis(ctx context.Context, t *Ticket) {
	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "analyze"),
		slog.String("position", string(t.Position)))
	defer func() {
		if r := recover(); r != nil {
			c.Store.Abort(t)
			logger.Error("analysis panicked", slog.Any("panic", r))
		}
	}()

	white, black, err := c.Analyzer.Analyze(ctx, t.Position)
	if err != nil {
		c.Store.Abort(t)
		logger.Warn("analysis failed", slog.Any("err", err))
		return
	}
	entry, err := c.Store.Commit(t, white, black)
	if err != nil {
		// Superseded while we were computing; newer result already serving.
		logger.Debug("stale analysis discarded")
		return
	}
	telemetry.AnalysesCompleted.Inc()
	logger.Info("analysis committed",
		slog.Uint64("version", entry.Version),
		slog.Bool("white_degraded", white.Degraded),
		slog.Bool("black_degraded", black.Degraded))
	if c.DB != nil {
		db.Heartbeat(ctx, c.DB, "last_analysis_commit")
	}
}
