package enforce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lazypower/duro/internal/config"
)

func TestCheckThreshold(t *testing.T) {
	now := time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)
	policy := config.Default().Waivers // warn 5, fail 10, 7 days

	byDay := func(counts map[int]int) ScoreboardData {
		d := ScoreboardData{ByDay: map[string]int{}}
		for daysAgo, n := range counts {
			d.ByDay[now.AddDate(0, 0, -daysAgo).Format(dayLayout)] = n
		}
		return d
	}

	tests := []struct {
		name   string
		data   ScoreboardData
		period int
		want   ThresholdStatus
		count  int
	}{
		{"empty", ScoreboardData{}, 7, ThresholdOK, 0},
		{"below warn", byDay(map[int]int{0: 2, 3: 2}), 7, ThresholdOK, 4},
		{"at warn", byDay(map[int]int{0: 5}), 7, ThresholdWarn, 5},
		{"at fail", byDay(map[int]int{1: 4, 6: 6}), 7, ThresholdFail, 10},
		{"outside period ignored", byDay(map[int]int{0: 1, 7: 20}), 7, ThresholdOK, 1},
		{"shorter period", byDay(map[int]int{0: 3, 2: 9}), 1, ThresholdOK, 3},
		{"zero period uses policy", byDay(map[int]int{6: 11}), 0, ThresholdFail, 11},
		{"malformed day skipped", ScoreboardData{ByDay: map[string]int{"junk": 50}}, 7, ThresholdOK, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := CheckThreshold(tt.data, policy, tt.period, now)
			require.Equal(t, tt.want, res.Status)
			require.Equal(t, tt.count, res.Count)
			require.Equal(t, policy.FailThreshold, res.Limit)
			require.Equal(t, tt.want == ThresholdFail, res.Exceeded())
		})
	}
}

func TestCheckThresholdIsPure(t *testing.T) {
	now := time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)
	d := ScoreboardData{ByDay: map[string]int{"2026-05-10": 12, "2026-01-01": 3}}
	first := CheckThreshold(d, config.Default().Waivers, 7, now)
	second := CheckThreshold(d, config.Default().Waivers, 7, now)
	require.Equal(t, first, second)
	require.Len(t, d.ByDay, 2)
}

func TestCheckThresholdWithoutFailLimit(t *testing.T) {
	policy := config.Default().Waivers
	policy.FailThreshold = 0
	policy.WarnThreshold = 0
	now := time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)
	res := CheckThreshold(ScoreboardData{ByDay: map[string]int{"2026-05-10": 500}}, policy, 7, now)
	require.Equal(t, ThresholdOK, res.Status)
	require.Equal(t, 500, res.Count)
}
