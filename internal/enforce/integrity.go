package enforce

import (
	"context"
	"errors"
	"fmt"
)

// ErrIntegrity means the pipeline cannot trust its own state. Every
// operation is denied while it holds and no waiver applies.
var ErrIntegrity = errors.New("enforcement integrity failure")

// CheckIntegrity verifies the invariants the pipeline depends on: a loaded
// rule set whose built-in unwaivable rules are present, enabled and
// blocking, plus a reachable store and audit recorder.
func (p *Pipeline) CheckIntegrity(ctx context.Context) error {
	rs := p.rules.Load()
	if rs == nil {
		return fmt.Errorf("%w: no rule set loaded", ErrIntegrity)
	}
	for _, id := range fixedUnwaivable {
		if !rs.unwaivable[id] {
			return fmt.Errorf("%w: %s missing from the unwaivable set", ErrIntegrity, id)
		}
		r, ok := rs.Rule(id)
		if !ok || r.Disabled || r.Action != ActionBlock {
			return fmt.Errorf("%w: unwaivable rule %s is not enforced", ErrIntegrity, id)
		}
	}
	if p.Recorder == nil || p.Recorder.DB == nil {
		return fmt.Errorf("%w: no audit recorder", ErrIntegrity)
	}
	if err := p.Recorder.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: store unreachable: %v", ErrIntegrity, err)
	}
	return nil
}
