// Package enforce decides whether a proposed privileged operation may run.
// It matches the operation against an ordered rule set, applies single-use
// waivers, records every decision to the audit log and keeps the waiver
// scoreboard consumed by CI.
package enforce

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// fixedUnwaivable can never be waived and can never be removed by
// configuration or a rules file.
var fixedUnwaivable = []string{
	"destructive_root_delete",
	"force_push_protected_branch",
	"secrets_in_git",
}

// FixedUnwaivable returns the built-in unwaivable rule ids.
func FixedUnwaivable() []string {
	return append([]string(nil), fixedUnwaivable...)
}

func isFixedUnwaivable(id string) bool {
	for _, f := range fixedUnwaivable {
		if f == id {
			return true
		}
	}
	return false
}

// Action is what a matched rule does without a valid waiver.
type Action string

const (
	ActionBlock Action = "block"
	ActionWarn  Action = "warn"
)

func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := Action(strings.ToLower(strings.TrimSpace(s)))
	switch incoming {
	case ActionBlock, ActionWarn:
		*a = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for action: %q", s)
	}
}

// Rule is one enforcement rule. Tools and Categories narrow which operations
// the rule applies to; Patterns are matched against the operation subject.
type Rule struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Action      Action   `yaml:"action"`
	Priority    int      `yaml:"priority"`
	Disabled    bool     `yaml:"disabled"`
	Tools       []string `yaml:"tools"`
	Categories  []string `yaml:"categories"`
	Patterns    []string `yaml:"patterns"`
	Reason      string   `yaml:"reason"`

	compiled []*regexp.Regexp
}

// RulesFile is the on-disk rules document.
type RulesFile struct {
	Version        int      `yaml:"version"`
	SafeTools      []string `yaml:"safe_tools"`
	SafeCategories []string `yaml:"safe_categories"`
	// Unwaivable adds rule ids to the built-in unwaivable set.
	Unwaivable []string `yaml:"unwaivable"`
	Rules      []Rule   `yaml:"rules"`
}

// RuleSet is a compiled, immutable rule set. It is swapped as a whole on
// reload and never mutated after construction.
type RuleSet struct {
	Source         string
	rules          []Rule
	unwaivable     map[string]bool
	safeTools      map[string]bool
	safeCategories map[string]bool
}

// CompileRegexes compiles every rule pattern.
func (f *RulesFile) CompileRegexes() error {
	for i := range f.Rules {
		r := &f.Rules[i]
		r.compiled = r.compiled[:0]
		for _, p := range r.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return fmt.Errorf("rule %s: failed to compile the regex %s: %w", r.ID, p, err)
			}
			r.compiled = append(r.compiled, re)
		}
	}
	return nil
}

// SortByPriority orders rules highest priority first. Rules of equal
// priority keep file order.
func (f *RulesFile) SortByPriority() {
	sort.SliceStable(f.Rules, func(i, j int) bool {
		return f.Rules[i].Priority > f.Rules[j].Priority
	})
}

func (f *RulesFile) validate() error {
	seen := map[string]bool{}
	for _, r := range f.Rules {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("rule without id")
		}
		if strings.ContainsAny(r.ID, ": \t") {
			return fmt.Errorf("rule %q: id must not contain ':' or whitespace", r.ID)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if r.Action == "" {
			return fmt.Errorf("rule %s: action is required", r.ID)
		}
		if len(r.Patterns) == 0 && len(r.Categories) == 0 {
			return fmt.Errorf("rule %s: needs at least one pattern or category", r.ID)
		}
		if isFixedUnwaivable(r.ID) && (r.Disabled || r.Action != ActionBlock) {
			return fmt.Errorf("rule %s is unwaivable and must stay enabled with action block", r.ID)
		}
	}
	return nil
}

// ParseRules decodes and compiles a rules document. Built-in unwaivable
// rules always come from the embedded defaults. extra adds ids to the
// unwaivable set.
func ParseRules(data []byte, source string, extra []string) (*RuleSet, error) {
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", source, err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("rules %s: %w", source, err)
	}
	if err := f.addFixedRules(); err != nil {
		return nil, err
	}
	if err := f.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("rules %s: %w", source, err)
	}
	f.SortByPriority()

	rs := &RuleSet{
		Source:         source,
		rules:          f.Rules,
		unwaivable:     map[string]bool{},
		safeTools:      toSet(f.SafeTools),
		safeCategories: toSet(f.SafeCategories),
	}
	for _, id := range fixedUnwaivable {
		rs.unwaivable[id] = true
	}
	for _, id := range append(append([]string{}, f.Unwaivable...), extra...) {
		if id = strings.TrimSpace(id); id != "" {
			rs.unwaivable[id] = true
		}
	}
	return rs, nil
}

// addFixedRules pins every built-in unwaivable rule to its embedded
// definition. A file may list these ids, but its patterns, tools and
// priority for them are discarded.
func (f *RulesFile) addFixedRules() error {
	var def RulesFile
	if err := yaml.Unmarshal(defaultRulesYAML, &def); err != nil {
		return fmt.Errorf("parse embedded rules: %w", err)
	}
	rules := f.Rules[:0]
	for _, r := range f.Rules {
		if !isFixedUnwaivable(r.ID) {
			rules = append(rules, r)
		}
	}
	for _, r := range def.Rules {
		if isFixedUnwaivable(r.ID) {
			rules = append(rules, r)
		}
	}
	f.Rules = rules
	return nil
}

// DefaultRules returns the embedded rule set.
func DefaultRules(extra []string) (*RuleSet, error) {
	return ParseRules(defaultRulesYAML, "embedded", extra)
}

// LoadRules reads the rules file at path, or the embedded defaults when path
// is empty.
func LoadRules(path string, extra []string) (*RuleSet, error) {
	if path == "" {
		return DefaultRules(extra)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data, path, extra)
}

func toSet(xs []string) map[string]bool {
	m := make(map[string]bool, len(xs))
	for _, x := range xs {
		if x = strings.TrimSpace(x); x != "" {
			m[x] = true
		}
	}
	return m
}

// Rules returns the enabled rules in evaluation order.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, 0, len(rs.rules))
	for _, r := range rs.rules {
		if !r.Disabled {
			out = append(out, r)
		}
	}
	return out
}

// Rule returns the rule with the given id.
func (rs *RuleSet) Rule(id string) (Rule, bool) {
	for _, r := range rs.rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// Unwaivable reports whether id is in the built-in or configured unwaivable
// set.
func (rs *RuleSet) Unwaivable(id string) bool {
	return isFixedUnwaivable(id) || rs.unwaivable[id]
}

// Safe reports whether op is inherently safe: a safe tool, or a read-only
// or safe-category operation. Caller-supplied ReadOnly and Category are
// ignored for shell commands.
func (rs *RuleSet) Safe(op Operation) bool {
	if rs.safeTools[op.Tool] {
		return true
	}
	if op.Command != "" {
		return false
	}
	return op.ReadOnly || (op.Category != "" && rs.safeCategories[op.Category])
}

// Match returns the first enabled rule matching op.
func (rs *RuleSet) Match(op Operation) (Rule, bool) {
	return rs.match(op, func(Rule) bool { return true })
}

// MatchUnwaivable returns the first enabled unwaivable rule matching op,
// regardless of any higher-priority waivable rule that also matches. extra
// names further unwaivable ids.
func (rs *RuleSet) MatchUnwaivable(op Operation, extra []string) (Rule, bool) {
	return rs.match(op, func(r Rule) bool {
		return rs.Unwaivable(r.ID) || listed(extra, r.ID)
	})
}

func (rs *RuleSet) match(op Operation, keep func(Rule) bool) (Rule, bool) {
	subject := op.Subject()
	for _, r := range rs.rules {
		if !r.Disabled && keep(r) && r.matches(op, subject) {
			return r, true
		}
	}
	return Rule{}, false
}

func (r Rule) matches(op Operation, subject string) bool {
	if len(r.Tools) > 0 && !contains(r.Tools, op.Tool) {
		return false
	}
	categoryHit := op.Category != "" && contains(r.Categories, op.Category)
	if categoryHit {
		return true
	}
	for _, re := range r.compiled {
		if subject != "" && re.MatchString(subject) {
			return true
		}
	}
	return false
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}
