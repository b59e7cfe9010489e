package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lazypower/duro/internal/config"
	"github.com/lazypower/duro/internal/keylock"
	"github.com/lazypower/duro/internal/logging"
	"github.com/lazypower/duro/internal/store"
)

// OverrideRecorder persists the audit trail of a debug gate override. It
// must return only after the record is durable; a non-nil error aborts the
// override.
type OverrideRecorder interface {
	RecordGateOverride(ctx context.Context, incidentID, reason string) error
}

// Engine runs confidence decay, decision validation and the debug gate over
// the artifact store. Mutations of one artifact id are serialized; distinct
// ids proceed in parallel.
type Engine struct {
	DB        *store.DB
	Decay     config.DecayConfig
	Gate      config.DebugGateConfig
	Overrides OverrideRecorder

	locks    keylock.Map
	log      *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a new Engine.
func New(db *store.DB, cfg config.Config) *Engine {
	return &Engine{
		DB:     db,
		Decay:  cfg.Decay,
		Gate:   cfg.DebugGate,
		log:    logging.New("engine"),
		stopCh: make(chan struct{}),
	}
}

func (e *Engine) now() time.Time {
	return e.DB.Time()
}

// StartDecayTimer runs decay on startup and then every Decay.Interval.
// A zero interval disables the timer.
func (e *Engine) StartDecayTimer() {
	if e.Decay.Interval <= 0 {
		return
	}
	run := func() {
		report, err := e.ApplyDecay(context.Background(), DecayOptions{})
		if err != nil {
			e.log.Error("decay", "err", err)
			return
		}
		if report.Decayed > 0 || report.Partial {
			e.log.Info("decay", "examined", report.Examined, "decayed", report.Decayed,
				"stale", len(report.Stale), "partial", report.Partial)
		}
	}
	run()

	go func() {
		ticker := time.NewTicker(e.Decay.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				run()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}
