package analysis

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/chess-companion/describe"
	"github.com/onnwee/chess-companion/engine"
	"github.com/onnwee/chess-companion/position"
	"github.com/onnwee/chess-companion/telemetry"
)

// mateScoreCP is the centipawn magnitude mate scores are mapped near, minus
// the distance to mate, so a faster mate still compares as better and the
// White-relative sign convention holds across bundles.
const mateScoreCP = 100000

// Analyzer computes both perspective bundles for a position. Side-to-move
// detection from broadcast video is brittle, so both sides are always
// computed; 2x compute buys away an entire class of misattribution errors
// and the resolver picks a perspective later from cheaper signals.
//
// The two perspectives run concurrently and fail independently: an engine
// timeout on one side degrades that bundle only. A degraded bundle always
// carries a valid template description.
type Analyzer struct {
	Engine    Engine
	History   History            // optional; nil skips historical refs
	Describer describe.Describer // optional; nil uses the template rendering

	Limit       engine.Limit
	CallTimeout time.Duration // per external call; default 10s
	HistoryTopK int           // default 3
}

func (a *Analyzer) callTimeout() time.Duration {
	if a.CallTimeout > 0 {
		return a.CallTimeout
	}
	return 10 * time.Second
}

// Analyze returns the White-to-move and Black-to-move bundles for pos. The
// only error case is context cancellation; collaborator failures degrade
// bundles instead.
func (a *Analyzer) Analyze(ctx context.Context, pos position.Position) (white, black *Bundle, err error) {
	telemetry.AnalysesStarted.Inc()
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "analysis.dual",
		attribute.String("position", string(pos)))
	defer span.End()

	var g errgroup.Group
	g.Go(func() error {
		white = a.perspective(ctx, pos, position.White)
		return ctx.Err()
	})
	g.Go(func() error {
		black = a.perspective(ctx, pos, position.Black)
		return ctx.Err()
	})
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, err
	}
	telemetry.AnalysisDuration.Observe(time.Since(start).Seconds())
	telemetry.SetSpanSuccess(span)
	return white, black, nil
}

// perspective runs the full pipeline for one assumed mover: engine evaluate,
// historical search, description synthesis. It always returns a usable
// bundle; missing sources are noted and flagged as degraded.
func (a *Analyzer) perspective(ctx context.Context, pos position.Position, mover position.Color) *Bundle {
	ctx, span := telemetry.StartSpan(ctx, "analysis.perspective",
		attribute.String("mover", mover.String()))
	defer span.End()

	b := &Bundle{Position: pos, Mover: mover, CreatedAt: time.Now().UTC()}
	facts := describe.Facts{Position: pos, Mover: mover}

	res, err := a.evaluate(ctx, pos.FEN(mover))
	if err != nil {
		b.Degraded = true
		b.Notes = append(b.Notes, "engine unavailable: "+err.Error())
		telemetry.RecordError(span, err)
	} else {
		cp, mate := normalizeScore(res, mover)
		b.ScoreCP = cp
		b.BestMove = res.BestMove
		b.PV = res.PV
		b.Depth = res.Depth
		facts.HaveEngine = true
		facts.ScoreCP = cp
		facts.Mate = mate
		facts.BestMoveUCI = res.BestMove
		facts.PV = res.PV
		facts.Depth = res.Depth
	}

	if a.History != nil {
		hctx, cancel := context.WithTimeout(ctx, a.callTimeout())
		refs, herr := a.History.Search(hctx, pos, a.HistoryTopK)
		cancel()
		if herr != nil {
			b.Degraded = true
			b.Notes = append(b.Notes, "history unavailable: "+herr.Error())
		} else {
			b.History = refs
			facts.History = refs
		}
	}

	var desc string
	if a.Describer != nil {
		dctx, cancel := context.WithTimeout(ctx, a.callTimeout())
		desc, err = a.Describer.Synthesize(dctx, facts)
		cancel()
		if err != nil {
			b.Degraded = true
			b.Notes = append(b.Notes, "description fallback: "+err.Error())
			desc = ""
		}
	}
	if desc == "" {
		desc = describe.Render(facts)
	}
	b.Description = desc

	if b.Degraded {
		telemetry.AnalysesDegraded.Inc()
	}
	return b
}

// evaluate calls the engine once, and on failure retries once with a halved
// limit and half the timeout before giving up. There is no hard cancel for
// a wedged search; the engine adapter kills and restarts its process on
// deadline, which is what makes the retry worth attempting.
func (a *Analyzer) evaluate(ctx context.Context, fen string) (engine.Result, error) {
	ectx, cancel := context.WithTimeout(ctx, a.callTimeout())
	res, err := a.Engine.Evaluate(ectx, fen, a.Limit)
	cancel()
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return engine.Result{}, err
	}
	rctx, cancel := context.WithTimeout(ctx, a.callTimeout()/2)
	defer cancel()
	return a.Engine.Evaluate(rctx, fen, a.Limit.Halve())
}

// normalizeScore converts the engine's mover-relative score to the
// White-relative convention all bundles share. Mate distances are folded
// into the centipawn value near ±mateScoreCP.
func normalizeScore(res engine.Result, mover position.Color) (cp, mate int) {
	cp, mate = res.ScoreCP, res.Mate
	if mover == position.Black {
		cp, mate = -cp, -mate
	}
	if mate > 0 {
		cp = mateScoreCP - mate
	} else if mate < 0 {
		cp = -(mateScoreCP + mate)
	}
	return cp, mate
}
