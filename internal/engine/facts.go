package engine

import (
	"context"
	"strings"

	"github.com/lazypower/duro/internal/store"
)

func (e *Engine) loadFact(id string) (*store.Artifact, *store.Fact, error) {
	a, err := e.DB.GetArtifact(id)
	if err != nil {
		return nil, nil, err
	}
	f, ok := a.Fact()
	if !ok {
		return nil, nil, wrongType(id, store.TypeFact)
	}
	return a, f, nil
}

// Reinforce marks a fact as re-confirmed: reinforced_at moves to now, the
// reinforcement count increments and the decay curve restarts from the
// current confidence. Confidence itself is unchanged.
func (e *Engine) Reinforce(ctx context.Context, id string) (*store.Artifact, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	a, f, err := e.loadFact(id)
	if err != nil {
		return nil, err
	}
	if f.SupersededBy != "" {
		return nil, ErrTerminalState
	}
	f.ReinforcedAt = e.now()
	f.ReinforcementCount++
	f.DecayBase = f.Confidence
	if err := e.DB.UpdateArtifact(a, "reinforce"); err != nil {
		return nil, err
	}
	e.log.Debug("reinforced fact", "id", id, "count", f.ReinforcementCount)
	return a, nil
}

// Supersede links oldID to its successor newID and closes oldID's validity
// window. Both must be live facts.
func (e *Engine) Supersede(ctx context.Context, oldID, newID, reason string) (*store.Artifact, error) {
	if oldID == newID {
		return nil, &store.ValidationError{Field: "new_id", Reason: "a fact cannot supersede itself"}
	}
	unlock := e.locks.LockAll(oldID, newID)
	defer unlock()

	old, f, err := e.loadFact(oldID)
	if err != nil {
		return nil, err
	}
	if _, _, err := e.loadFact(newID); err != nil {
		return nil, err
	}
	if f.SupersededBy != "" {
		return nil, ErrAlreadySuperseded
	}

	now := e.now()
	f.SupersededBy = newID
	f.SupersedeReason = strings.TrimSpace(reason)
	f.ValidUntil = &now
	if err := e.DB.UpdateArtifact(old, "supersede"); err != nil {
		return nil, err
	}
	e.log.Info("superseded fact", "id", oldID, "by", newID)
	return old, nil
}
