package activity

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Pivot names an event field a grouping rule holds fixed.
type Pivot string

const (
	PivotActor  Pivot = "actor"
	PivotObject Pivot = "object"
	PivotTarget Pivot = "target"
)

// ValidPivot reports whether p is a recognized pivot field.
func ValidPivot(p Pivot) bool {
	switch p {
	case PivotActor, PivotObject, PivotTarget:
		return true
	}
	return false
}

// GroupingRule defines one grouping strategy for a verb: which event fields
// are held fixed (the pivots) and how far back an aggregate may keep merging
// (the merge window). Multiple rules are registered per verb; every matching
// rule sees every event, but exactly one claims it.
//
// Rules are loaded at startup from YAML files and fingerprinted. The loaded
// slice is ordered (lexical file order) and immutable: rule order is the
// claim precedence, so it must be reproducible across processes.
type GroupingRule struct {
	Name        string
	Verb        string
	Pivots      []Pivot
	MergeWindow time.Duration
	Fingerprint string // SHA-256 of the raw YAML file; computed at load time
}

// rawRule is the on-disk YAML shape.
type rawRule struct {
	Name        string   `yaml:"name"`
	Verb        string   `yaml:"verb"`
	Pivots      []string `yaml:"pivots"`
	MergeWindow string   `yaml:"merge_window"`
}

// Matches reports whether this rule applies to an event. A rule pivoting on
// target only matches events that carry one.
func (r GroupingRule) Matches(verb, targetID string) bool {
	if r.Verb != verb {
		return false
	}
	for _, p := range r.Pivots {
		if p == PivotTarget && targetID == "" {
			return false
		}
	}
	return true
}

// RuleRepository loads grouping rules.
type RuleRepository interface {
	// Get returns the rule with the given name, or an error if not found.
	Get(name string) (*GroupingRule, error)

	// Rules returns all loaded rules in claim-precedence order.
	Rules() []GroupingRule
}

// FileSystemRuleRepository loads grouping rules from *.yaml files in a
// directory. Each file contains exactly one rule. Rules are loaded once at
// startup and cached in memory — no hot reload. File order (lexical, as
// returned by os.ReadDir) is claim-precedence order.
type FileSystemRuleRepository struct {
	dir     string
	ordered []GroupingRule
	byName  map[string]GroupingRule
}

// NewFileSystemRuleRepository creates a new repository and eagerly loads all
// rules from dir. Returns an error if any rule file is malformed or invalid.
func NewFileSystemRuleRepository(dir string) (*FileSystemRuleRepository, error) {
	repo := &FileSystemRuleRepository{
		dir:    dir,
		byName: make(map[string]GroupingRule),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemRuleRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // no rules directory — valid (zero rules configured)
	}
	if err != nil {
		return fmt.Errorf("grouping rule dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("grouping rule path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading grouping rule dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading rule file %s: %w", path, err)
		}

		var raw rawRule
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing rule file %s: %w", path, err)
		}
		if raw.Name == "" {
			continue // skip empty / comment-only files
		}

		rule, err := buildRule(raw)
		if err != nil {
			return err
		}
		rule.Fingerprint = fmt.Sprintf("%x", sha256.Sum256(data))

		if _, exists := r.byName[rule.Name]; exists {
			return fmt.Errorf("rule %q: duplicate rule name (check multiple YAML files)", rule.Name)
		}

		r.byName[rule.Name] = rule
		r.ordered = append(r.ordered, rule)
	}
	return nil
}

func buildRule(raw rawRule) (GroupingRule, error) {
	if raw.Verb == "" {
		return GroupingRule{}, fmt.Errorf("rule %q: verb must not be empty", raw.Name)
	}
	if len(raw.Pivots) == 0 {
		return GroupingRule{}, fmt.Errorf("rule %q: at least one pivot is required", raw.Name)
	}

	pivots := make([]Pivot, 0, len(raw.Pivots))
	for _, p := range raw.Pivots {
		pivot := Pivot(p)
		if !ValidPivot(pivot) {
			return GroupingRule{}, fmt.Errorf("rule %q: unsupported pivot %q", raw.Name, p)
		}
		for _, seen := range pivots {
			if seen == pivot {
				return GroupingRule{}, fmt.Errorf("rule %q: duplicate pivot %q", raw.Name, p)
			}
		}
		pivots = append(pivots, pivot)
	}

	window, err := ParseMergeWindow(raw.MergeWindow)
	if err != nil {
		return GroupingRule{}, fmt.Errorf("rule %q: %w", raw.Name, err)
	}

	return GroupingRule{
		Name:        raw.Name,
		Verb:        raw.Verb,
		Pivots:      pivots,
		MergeWindow: window,
	}, nil
}

// Get returns the rule with the given name, or an error if not found.
func (r *FileSystemRuleRepository) Get(name string) (*GroupingRule, error) {
	rule, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("grouping rule %q not found", name)
	}
	return &rule, nil
}

// Rules returns all loaded rules in claim-precedence order.
func (r *FileSystemRuleRepository) Rules() []GroupingRule {
	out := make([]GroupingRule, len(r.ordered))
	copy(out, r.ordered)
	return out
}
