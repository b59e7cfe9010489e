package engine

// Confidence decay:
//   - no decay until StalenessHorizon has elapsed since reinforced_at
//   - beyond it, confidence moves toward Floor with HalfLife:
//     floor + (base - floor) * 0.5^((age - horizon) / halfLife)
//   - base is the confidence at the last reinforcement (decay_base), so the
//     target is a pure function of time and re-running at the same instant
//     changes nothing
//   - values only ever go down; pinned and superseded facts are exempt
//   - computed in Go (not SQL) because modernc.org/sqlite lacks pow()

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lazypower/duro/internal/config"
	"github.com/lazypower/duro/internal/metrics"
	"github.com/lazypower/duro/internal/store"
)

// DecayOptions controls one ApplyDecay run.
type DecayOptions struct {
	DryRun        bool
	MinImportance float64
}

// DecayedFact describes one fact whose confidence decay lowered.
type DecayedFact struct {
	ID         string  `json:"id"`
	Claim      string  `json:"claim"`
	Previous   float64 `json:"previous"`
	Confidence float64 `json:"confidence"`
	Importance float64 `json:"importance"`
}

// DecayReport summarizes an ApplyDecay run.
type DecayReport struct {
	Examined  int           `json:"examined"`
	Decayed   int           `json:"decayed"`
	Skipped   int           `json:"skipped"`
	Malformed int           `json:"malformed"`
	Stale     []DecayedFact `json:"stale"`
	Updates   []DecayedFact `json:"updates"`
	DryRun    bool          `json:"dry_run"`
	// Partial is set when the run hit its timeout before examining every fact.
	Partial bool `json:"partial"`
}

// DecayedConfidence returns the confidence a fact reinforced at reinforcedAt
// with decay base base should have at now. It is rounded to four decimals.
func DecayedConfidence(cfg config.DecayConfig, base float64, reinforcedAt, now time.Time) float64 {
	age := now.Sub(reinforcedAt)
	if age <= cfg.StalenessHorizon || cfg.HalfLife <= 0 {
		return base
	}
	factor := math.Pow(0.5, float64(age-cfg.StalenessHorizon)/float64(cfg.HalfLife))
	target := cfg.Floor + (base-cfg.Floor)*factor
	return math.Max(0, math.Round(target*1e4)/1e4)
}

// ApplyDecay lowers the confidence of every stale, unpinned fact. Facts
// whose new confidence crosses below Decay.StaleThreshold and whose
// importance is at least opts.MinImportance are returned in Stale. The run
// is bounded by Decay.Timeout; on expiry the facts processed so far are kept
// and the report is marked partial.
func (e *Engine) ApplyDecay(ctx context.Context, opts DecayOptions) (*DecayReport, error) {
	if e.Decay.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Decay.Timeout)
		defer cancel()
	}

	report := &DecayReport{DryRun: opts.DryRun, Stale: []DecayedFact{}, Updates: []DecayedFact{}}
	facts, err := e.DB.QueryArtifacts(store.Filter{
		Type:      store.TypeFact,
		Ascending: true,
		OnMalformed: func(id string, err error) {
			report.Malformed++
			e.log.Warn("decay: skipping malformed fact", "id", id, "err", err)
		},
	})
	if err != nil {
		return nil, err
	}

	now := e.now()
	workers := e.Decay.Workers
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, a := range facts {
		if gctx.Err() != nil {
			mu.Lock()
			report.Partial = true
			mu.Unlock()
			break
		}
		id := a.ID
		g.Go(func() error {
			if gctx.Err() != nil {
				mu.Lock()
				report.Partial = true
				mu.Unlock()
				return nil
			}
			upd, examined, err := e.decayOne(id, now, opts.DryRun)

			mu.Lock()
			defer mu.Unlock()
			if examined {
				report.Examined++
			}
			switch {
			case err != nil:
				report.Skipped++
				e.log.Warn("decay: skipping fact", "id", id, "err", err)
			case upd == nil:
			default:
				report.Decayed++
				report.Updates = append(report.Updates, *upd)
				if upd.Previous >= e.Decay.StaleThreshold && upd.Confidence < e.Decay.StaleThreshold &&
					upd.Importance >= opts.MinImportance {
					report.Stale = append(report.Stale, *upd)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		report.Partial = true
	}

	sort.Slice(report.Updates, func(i, j int) bool { return report.Updates[i].ID < report.Updates[j].ID })
	sort.Slice(report.Stale, func(i, j int) bool { return report.Stale[i].ID < report.Stale[j].ID })
	if !opts.DryRun {
		metrics.DecayUpdates(report.Decayed)
	}
	return report, nil
}

// decayOne re-reads a fact under its lock and applies decay. It returns a
// nil update when the fact is exempt or already at its target.
func (e *Engine) decayOne(id string, now time.Time, dryRun bool) (*DecayedFact, bool, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	a, err := e.DB.GetArtifact(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	f, ok := a.Fact()
	if !ok {
		return nil, false, nil
	}
	if f.Pinned || f.SupersededBy != "" {
		return nil, true, nil
	}

	target := DecayedConfidence(e.Decay, f.DecayBase, f.ReinforcedAt, now)
	if target >= f.Confidence {
		return nil, true, nil
	}
	upd := &DecayedFact{
		ID:         a.ID,
		Claim:      f.Claim,
		Previous:   f.Confidence,
		Confidence: target,
		Importance: f.Importance,
	}
	if dryRun {
		return upd, true, nil
	}
	f.Confidence = target
	if err := e.DB.UpdateArtifact(a, "decay"); err != nil {
		return nil, true, err
	}
	return upd, true, nil
}
