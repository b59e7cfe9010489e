// Package audit persists enforcement and gate-override decisions and
// forwards a copy to an optional webhook sink.
package audit

import (
	"context"
	"fmt"

	"github.com/lazypower/duro/internal/store"
)

// Kinds of audit entries.
const (
	KindAdmission    = "admission"
	KindIntegrity    = "integrity"
	KindGateOverride = "gate_override"
)

// SeverityBootstrapFailure marks records that bypassed a safety check and
// need later human review.
const SeverityBootstrapFailure = "bootstrap_failure"

// Recorder writes audit entries to the store before returning, then hands
// them to the sink without waiting for delivery.
type Recorder struct {
	DB   *store.DB
	Sink *Sink
}

// NewRecorder creates a Recorder. sink may be nil.
func NewRecorder(db *store.DB, sink *Sink) *Recorder {
	return &Recorder{DB: db, Sink: sink}
}

// Record persists e. A non-nil error means the entry is not durable and the
// decision it describes must not be acted on.
func (r *Recorder) Record(ctx context.Context, e *store.AuditEntry) error {
	if r == nil || r.DB == nil {
		return fmt.Errorf("audit: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if err := r.DB.AppendAudit(e); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if r.Sink != nil {
		r.Sink.Enqueue(*e)
	}
	return nil
}

// List returns persisted entries, newest first.
func (r *Recorder) List(f store.AuditFilter) ([]store.AuditEntry, error) {
	return r.DB.ListAudit(f)
}
