package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/lazypower/duro/internal/store"
)

// riskKeywords maps substrings of symptoms and tags to risk tags used to
// correlate incidents with change-ledger entries.
var riskKeywords = map[string][]string{
	"schema":  {"db", "database", "migration", "schema", "sql", "table", "index"},
	"auth":    {"auth", "token", "login", "session", "oauth", "permission", "credential"},
	"config":  {"config", "env", "flag", "setting", "feature"},
	"deploy":  {"deploy", "release", "rollout", "rollback", "ci", "build"},
	"cache":   {"cache", "redis", "memcache", "stale", "ttl", "invalidat"},
	"network": {"network", "api", "http", "dns", "timeout", "tls", "latency", "grpc"},
	"perf":    {"perf", "slow", "memory", "cpu", "leak", "oom"},
	"deps":    {"dependency", "upgrade", "version", "go.mod", "package", "bump"},
}

// InferRiskTags derives risk tags from free text and user tags. User tags
// that are already risk tags are kept as is.
func InferRiskTags(text string, tags []string) []string {
	seen := map[string]bool{}
	words := strings.ToLower(text + " " + strings.Join(tags, " "))
	for risk, keys := range riskKeywords {
		for _, k := range keys {
			if containsWord(words, k) {
				seen[risk] = true
				break
			}
		}
	}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if _, ok := riskKeywords[t]; ok {
			seen[t] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// containsWord reports whether k starts a word in s. Short keys such as
// "ci" or "db" would otherwise match inside unrelated words.
func containsWord(s, k string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], k)
		if j < 0 {
			return false
		}
		pos := i + j
		if pos == 0 || !isWordByte(s[pos-1]) {
			return true
		}
		i = pos + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}

// ChangeQuery selects change-ledger entries for RecentChanges.
type ChangeQuery struct {
	Window   time.Duration
	RiskTags []string // any-match against content risk tags and artifact tags
	Scope    string   // substring of the change scope
	Limit    int
}

// ChangeSummary is the compact form of a change-ledger entry.
type ChangeSummary struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	Change    string    `json:"change"`
	RiskTags  []string  `json:"risk_tags"`
	CreatedAt time.Time `json:"created_at"`
}

func summarize(a *store.Artifact) ChangeSummary {
	c, _ := a.RecentChange()
	return ChangeSummary{ID: a.ID, Scope: c.Scope, Change: c.Change, RiskTags: changeRiskTags(a), CreatedAt: a.CreatedAt}
}

// changeRiskTags merges a change's declared risk tags with its artifact tags.
func changeRiskTags(a *store.Artifact) []string {
	c, _ := a.RecentChange()
	seen := map[string]bool{}
	var out []string
	for _, t := range append(append([]string{}, c.RiskTags...), a.Tags...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func sharesTag(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// RecentChanges returns change-ledger entries newer than q.Window, newest
// first.
func (e *Engine) RecentChanges(ctx context.Context, q ChangeQuery) ([]*store.Artifact, error) {
	if q.Window <= 0 {
		q.Window = e.Gate.Lookback
	}
	return e.changesBetween(e.now().Add(-q.Window), time.Time{}, q)
}

func (e *Engine) changesBetween(since, until time.Time, q ChangeQuery) ([]*store.Artifact, error) {
	changes, err := e.DB.QueryArtifacts(store.Filter{
		Type:  store.TypeRecentChange,
		Since: since,
		Until: until,
		OnMalformed: func(id string, err error) {
			e.log.Warn("changes: skipping malformed change", "id", id, "err", err)
		},
	})
	if err != nil {
		return nil, err
	}
	scope := strings.ToLower(strings.TrimSpace(q.Scope))
	out := []*store.Artifact{}
	for _, a := range changes {
		c, _ := a.RecentChange()
		if scope != "" && !strings.Contains(strings.ToLower(c.Scope), scope) {
			continue
		}
		if len(q.RiskTags) > 0 && !sharesTag(q.RiskTags, changeRiskTags(a)) {
			continue
		}
		out = append(out, a)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}
