package store

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Type is the closed set of artifact kinds.
type Type string

const (
	TypeFact         Type = "fact"
	TypeDecision     Type = "decision"
	TypeEpisode      Type = "episode"
	TypeIncident     Type = "incident"
	TypeRecentChange Type = "recent_change"
)

// Valid reports whether t is a known artifact type.
func (t Type) Valid() bool {
	switch t {
	case TypeFact, TypeDecision, TypeEpisode, TypeIncident, TypeRecentChange:
		return true
	}
	return false
}

type Sensitivity string

const (
	Public    Sensitivity = "public"
	Internal  Sensitivity = "internal"
	Sensitive Sensitivity = "sensitive"
)

func (s Sensitivity) Valid() bool {
	return s == Public || s == Internal || s == Sensitive
}

// Artifact is the shared envelope of every stored record. Content holds the
// type-specific variant; Type always equals Content.ArtifactType().
type Artifact struct {
	ID           string      `json:"id"`
	Type         Type        `json:"type"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Sensitivity  Sensitivity `json:"sensitivity"`
	Tags         []string    `json:"tags"`
	Workflow     string      `json:"workflow,omitempty"`
	Revision     int         `json:"revision"`
	DeletedAt    *time.Time  `json:"deleted_at,omitempty"`
	DeleteReason string      `json:"delete_reason,omitempty"`
	Content      Content     `json:"content"`
}

// Content is the per-type payload of an artifact. The unexported prepare
// method closes the set to the variants declared in this package.
type Content interface {
	ArtifactType() Type
	// Validate checks required fields and enumerations. It returns a
	// *ValidationError on failure.
	Validate() error
	// prepare applies creation-time defaults.
	prepare(now time.Time)
}

// Fact returns the fact content, or false if the artifact is not a fact.
func (a *Artifact) Fact() (*Fact, bool) {
	f, ok := a.Content.(*Fact)
	return f, ok
}

// Decision returns the decision content, or false if the artifact is not a decision.
func (a *Artifact) Decision() (*Decision, bool) {
	d, ok := a.Content.(*Decision)
	return d, ok
}

// Incident returns the incident content, or false if the artifact is not an incident.
func (a *Artifact) Incident() (*Incident, bool) {
	i, ok := a.Content.(*Incident)
	return i, ok
}

// RecentChange returns the change content, or false if the artifact is not a change.
func (a *Artifact) RecentChange() (*RecentChange, bool) {
	c, ok := a.Content.(*RecentChange)
	return c, ok
}

// Episode returns the episode content, or false if the artifact is not an episode.
func (a *Artifact) Episode() (*Episode, bool) {
	e, ok := a.Content.(*Episode)
	return e, ok
}

// HasTag reports whether the artifact carries tag.
func (a *Artifact) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// decodeContent unmarshals a JSON payload into the variant for t.
func decodeContent(t Type, data []byte) (Content, error) {
	var c Content
	switch t {
	case TypeFact:
		c = &Fact{}
	case TypeDecision:
		c = &Decision{}
	case TypeEpisode:
		c = &Episode{}
	case TypeIncident:
		c = &Incident{}
	case TypeRecentChange:
		c = &RecentChange{}
	default:
		return nil, fmt.Errorf("unknown artifact type %q", t)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decode %s content: %w", t, err)
	}
	return c, nil
}

// UnmarshalJSON decodes an artifact envelope, resolving Content by type.
func (a *Artifact) UnmarshalJSON(data []byte) error {
	type envelope Artifact
	var raw struct {
		envelope
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Artifact(raw.envelope)
	if len(raw.Content) == 0 || string(raw.Content) == "null" {
		return nil
	}
	c, err := decodeContent(raw.Type, raw.Content)
	if err != nil {
		return err
	}
	a.Content = c
	return nil
}

// ClampConfidence bounds v to [0,1].
func ClampConfidence(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// normalizeTags trims, drops empties, dedupes and sorts. Tag order carries
// no meaning.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func nonEmpty(items []string) []string {
	out := items[:0:0]
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func checkConfidence(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid(field, "must be a finite number")
	}
	return nil
}
