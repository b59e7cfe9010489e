package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/lazypower/duro/internal/api"
	"github.com/lazypower/duro/internal/audit"
	"github.com/lazypower/duro/internal/config"
	"github.com/lazypower/duro/internal/engine"
	"github.com/lazypower/duro/internal/enforce"
	"github.com/lazypower/duro/internal/store"
)

// stack is the wired runtime shared by every command that touches the
// store.
type stack struct {
	cfg  config.Config
	db   *store.DB
	sink *audit.Sink
	eng  *engine.Engine
	pipe *enforce.Pipeline
	svc  *api.Service
}

// openDB opens the configured database, falling back to ~/.duro/duro.db.
func openDB(cfg config.Config) (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func openStack(cfg config.Config) (*stack, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	st := &stack{cfg: cfg, db: db}

	if cfg.Audit.SinkURL != "" {
		st.sink = audit.NewSink(cfg.Audit.SinkURL, cfg.Audit.Buffer, cfg.Audit.Timeout)
	}
	sb, err := enforce.LoadScoreboard(db, cfg.Waivers.PeriodDays)
	if err != nil {
		st.Close()
		return nil, err
	}
	rs, err := enforce.LoadRules(cfg.Enforcement.RulesPath, cfg.Waivers.UnwaivableRules)
	if err != nil {
		st.Close()
		return nil, err
	}
	st.pipe = enforce.NewPipeline(rs, cfg, audit.NewRecorder(db, st.sink), sb)
	st.eng = engine.New(db, cfg)
	st.eng.Overrides = st.pipe
	st.svc = api.New(db, st.eng, st.pipe, cfg)
	return st, nil
}

// Close stops background work, drains the audit sink and closes the store.
func (s *stack) Close() {
	if s.eng != nil {
		s.eng.Stop()
	}
	if s.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.sink.Close(ctx)
		cancel()
	}
	s.db.Close()
}
