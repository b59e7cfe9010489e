package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lazypower/duro/internal/logging"
	"github.com/lazypower/duro/internal/store"
)

const defaultBuffer = 256

// Sink posts audit entries to a webhook from a background worker. Enqueue
// never blocks; entries arriving while the queue is full are dropped and
// counted.
type Sink struct {
	http  *http.Client
	url   string
	queue chan store.AuditEntry
	log   *slog.Logger

	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
	sent    atomic.Int64
}

// NewSink creates a sink posting to url and starts its worker.
func NewSink(url string, buffer int, timeout time.Duration) *Sink {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Sink{
		http:  &http.Client{Timeout: timeout},
		url:   url,
		queue: make(chan store.AuditEntry, buffer),
		log:   logging.New("audit"),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue schedules e for delivery. It reports false if the entry was dropped.
func (s *Sink) Enqueue(e store.AuditEntry) (ok bool) {
	defer func() {
		// Enqueue after Close lands on a closed channel.
		if recover() != nil {
			ok = false
			s.dropped.Add(1)
		}
	}()
	select {
	case s.queue <- e:
		return true
	default:
		s.dropped.Add(1)
		s.log.Warn("audit sink queue full, dropping entry", "kind", e.Kind, "rule", e.RuleID)
		return false
	}
}

// Dropped returns the number of entries dropped so far.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Sent returns the number of entries delivered so far.
func (s *Sink) Sent() int64 { return s.sent.Load() }

// Close stops accepting entries and waits for the queue to drain or ctx to
// expire.
func (s *Sink) Close(ctx context.Context) error {
	s.once.Do(func() { close(s.queue) })
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) run() {
	defer s.wg.Done()
	for e := range s.queue {
		if err := s.post(e); err != nil {
			s.log.Warn("audit sink delivery failed", "err", err, "kind", e.Kind)
			continue
		}
		s.sent.Add(1)
	}
}

// post sends one entry as a JSON body.
func (s *Sink) post(e store.AuditEntry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	resp, err := s.http.Post(s.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("POST %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("POST %s: status %d: %s", s.url, resp.StatusCode, data)
	}
	return nil
}
