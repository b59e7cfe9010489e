package enforce

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lazypower/duro/internal/logging"
	"github.com/lazypower/duro/internal/store"
)

// Scoreboard bounds.
const (
	RecentCap     = 50
	RetentionDays = 30
	dayLayout     = "2006-01-02"
)

// ScoreboardAggregate is the name of the persisted scoreboard document.
const ScoreboardAggregate = "waiver_scoreboard"

// WaiverRecord is one successful waived admission.
type WaiverRecord struct {
	RuleID         string    `json:"rule_id"`
	Reason         string    `json:"reason"`
	CommandPreview string    `json:"command_preview"`
	Timestamp      time.Time `json:"timestamp"`
}

// ScoreboardData is a snapshot of the waiver scoreboard.
type ScoreboardData struct {
	Updated      time.Time      `json:"updated"`
	Period       int            `json:"period"`
	TotalWaivers int            `json:"total_waivers"`
	ByRule       map[string]int `json:"by_rule"`
	ByDay        map[string]int `json:"by_day"`
	Recent       []WaiverRecord `json:"recent"`
}

func (d ScoreboardData) clone() ScoreboardData {
	out := d
	out.ByRule = make(map[string]int, len(d.ByRule))
	for k, v := range d.ByRule {
		out.ByRule[k] = v
	}
	out.ByDay = make(map[string]int, len(d.ByDay))
	for k, v := range d.ByDay {
		out.ByDay[k] = v
	}
	out.Recent = append([]WaiverRecord{}, d.Recent...)
	return out
}

// Scoreboard is the single writer of the waiver aggregate. Callers only ever
// see copies.
type Scoreboard struct {
	DB  *store.DB // optional; nil keeps the scoreboard in memory
	Now func() time.Time

	mu   sync.Mutex
	data ScoreboardData
	ver  uint64

	persistMu sync.Mutex
	persisted uint64

	log *slog.Logger
}

// NewScoreboard returns an empty scoreboard reporting over periodDays.
func NewScoreboard(db *store.DB, periodDays int) *Scoreboard {
	s := &Scoreboard{DB: db, Now: time.Now, log: logging.New("scoreboard")}
	s.data = ScoreboardData{Period: periodDays, ByRule: map[string]int{}, ByDay: map[string]int{}, Recent: []WaiverRecord{}}
	return s
}

// LoadScoreboard restores the persisted scoreboard, dropping malformed day
// keys and out-of-window days.
func LoadScoreboard(db *store.DB, periodDays int) (*Scoreboard, error) {
	s := NewScoreboard(db, periodDays)
	if db == nil {
		return s, nil
	}
	var d ScoreboardData
	found, err := db.LoadAggregate(ScoreboardAggregate, &d)
	if err != nil {
		return nil, err
	}
	if !found {
		return s, nil
	}
	if d.ByRule == nil {
		d.ByRule = map[string]int{}
	}
	if d.ByDay == nil {
		d.ByDay = map[string]int{}
	}
	if d.Recent == nil {
		d.Recent = []WaiverRecord{}
	}
	d.Period = periodDays
	s.mu.Lock()
	s.data = d
	s.pruneLocked(s.now())
	s.mu.Unlock()
	return s, nil
}

func (s *Scoreboard) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Record counts one waived admission and persists the result.
func (s *Scoreboard) Record(ruleID, reason, preview string) (ScoreboardData, error) {
	now := s.now()

	s.mu.Lock()
	s.data.TotalWaivers++
	s.data.ByRule[ruleID]++
	s.data.ByDay[now.Format(dayLayout)]++
	rec := WaiverRecord{RuleID: ruleID, Reason: reason, CommandPreview: truncatePreview(preview, PreviewMax), Timestamp: now}
	s.data.Recent = append([]WaiverRecord{rec}, s.data.Recent...)
	if len(s.data.Recent) > RecentCap {
		s.data.Recent = s.data.Recent[:RecentCap]
	}
	s.pruneLocked(now)
	s.data.Updated = now
	s.ver++
	ver := s.ver
	snap := s.data.clone()
	s.mu.Unlock()

	return snap, s.persist(ver, snap)
}

// Prune drops by_day entries outside the retention window. Record prunes
// on every write; readers call Prune so an idle scoreboard does not keep
// serving expired days.
func (s *Scoreboard) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())
}

func (s *Scoreboard) pruneLocked(now time.Time) {
	cutoff := startOfDay(now).AddDate(0, 0, -RetentionDays)
	for day := range s.data.ByDay {
		t, err := time.Parse(dayLayout, day)
		if err != nil {
			s.log.Warn("dropping malformed scoreboard day", "day", day, "err", err)
			delete(s.data.ByDay, day)
			continue
		}
		if t.Before(cutoff) {
			delete(s.data.ByDay, day)
		}
	}
}

// persist writes snap unless a newer version has already been written.
func (s *Scoreboard) persist(ver uint64, snap ScoreboardData) error {
	if s.DB == nil {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if ver <= s.persisted {
		return nil
	}
	if err := s.DB.SaveAggregate(ScoreboardAggregate, snap); err != nil {
		return fmt.Errorf("persist scoreboard: %w", err)
	}
	s.persisted = ver
	return nil
}

// Snapshot returns a deep copy of the current scoreboard.
func (s *Scoreboard) Snapshot() ScoreboardData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.clone()
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
