package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lazypower/duro/internal/config"
	"github.com/lazypower/duro/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeOverrides struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeOverrides) RecordGateOverride(ctx context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, id+":"+reason)
	return nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testEngine(t *testing.T) (*Engine, *fakeClock, *fakeOverrides) {
	t.Helper()
	db := testDB(t)
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	db.Now = clock.Now
	e := New(db, config.Default())
	overrides := &fakeOverrides{}
	e.Overrides = overrides
	return e, clock, overrides
}

func createFact(t *testing.T, e *Engine, f *store.Fact, tags ...string) *store.Artifact {
	t.Helper()
	a := &store.Artifact{Tags: tags, Content: f}
	if err := e.DB.CreateArtifact(a); err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	return a
}

func createChange(t *testing.T, e *Engine, scope, change string, riskTags ...string) *store.Artifact {
	t.Helper()
	a := &store.Artifact{Content: &store.RecentChange{Scope: scope, Change: change, RiskTags: riskTags}}
	if err := e.DB.CreateArtifact(a); err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	return a
}

func TestStartDecayTimerDisabled(t *testing.T) {
	e, _, _ := testEngine(t)
	e.Decay.Interval = 0
	e.StartDecayTimer()
	e.Stop()
	e.Stop()
}

func TestWrongTypeIsNotFound(t *testing.T) {
	e, _, _ := testEngine(t)
	a := createFact(t, e, store.NewFact("not a decision"))

	_, err := e.RecordOutcome(context.Background(), a.ID, OutcomeInput{Status: store.StatusValidated})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
