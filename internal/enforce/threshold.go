package enforce

import (
	"time"

	"github.com/lazypower/duro/internal/config"
)

// ThresholdStatus is the CI-facing verdict of CheckThreshold.
type ThresholdStatus string

const (
	ThresholdOK   ThresholdStatus = "ok"
	ThresholdWarn ThresholdStatus = "warn"
	ThresholdFail ThresholdStatus = "fail"
)

// ThresholdResult reports the trailing-period waiver count. Limit is the
// fail threshold; zero means no fail threshold is configured.
type ThresholdResult struct {
	Status     ThresholdStatus `json:"status"`
	Count      int             `json:"count"`
	Limit      int             `json:"limit"`
	Warn       int             `json:"warn"`
	PeriodDays int             `json:"period_days"`
}

// Exceeded reports whether the result should fail a build.
func (r ThresholdResult) Exceeded() bool { return r.Status == ThresholdFail }

// CheckThreshold counts waivers in the periodDays days ending today and
// compares the count with the policy thresholds. It only reads its inputs.
func CheckThreshold(d ScoreboardData, policy config.WaiverConfig, periodDays int, now time.Time) ThresholdResult {
	if periodDays < 1 {
		periodDays = policy.PeriodDays
	}
	if periodDays < 1 {
		periodDays = 1
	}
	today := startOfDay(now)
	from := today.AddDate(0, 0, -(periodDays - 1))

	count := 0
	for day, n := range d.ByDay {
		t, err := time.Parse(dayLayout, day)
		if err != nil {
			continue
		}
		if !t.Before(from) && !t.After(today) {
			count += n
		}
	}

	res := ThresholdResult{
		Status:     ThresholdOK,
		Count:      count,
		Limit:      policy.FailThreshold,
		Warn:       policy.WarnThreshold,
		PeriodDays: periodDays,
	}
	switch {
	case policy.FailThreshold > 0 && count >= policy.FailThreshold:
		res.Status = ThresholdFail
	case policy.WarnThreshold > 0 && count >= policy.WarnThreshold:
		res.Status = ThresholdWarn
	}
	return res
}
