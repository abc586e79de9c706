package rules

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/compliancebot/internal/compliance"
)

// ErrDuplicateRule is returned by AddRule when the id is already present.
var ErrDuplicateRule = errors.New("rule id already exists")

// ErrDisabledRule is returned by AddRule for a rule that is not enabled.
var ErrDisabledRule = errors.New("rule is disabled")

// Snapshot is an immutable view of the catalog taken at one point in time.
type Snapshot struct {
	rules      []Rule
	advisories *AdvisoryDB
}

// NewSnapshot builds a snapshot directly, for callers that bypass a Catalog.
func NewSnapshot(rs []Rule, db *AdvisoryDB) Snapshot {
	if db == nil {
		db = DefaultAdvisories()
	}
	return Snapshot{rules: enabledOnly(append([]Rule(nil), rs...)), advisories: db}
}

// Rules returns a copy of the snapshot's rules in catalog order.
func (s Snapshot) Rules() []Rule { return append([]Rule(nil), s.rules...) }

// Len returns the number of rules.
func (s Snapshot) Len() int { return len(s.rules) }

// Custom returns the rules that are not built-in.
func (s Snapshot) Custom() []Rule {
	var out []Rule
	for _, r := range s.rules {
		if !IsBuiltin(r.ID) {
			out = append(out, r)
		}
	}
	return out
}

// Advisories returns the advisory database used by dependency rules.
func (s Snapshot) Advisories() *AdvisoryDB { return s.advisories }

// Catalog is the live, mutable rule set. It is safe for concurrent use.
type Catalog struct {
	mu         sync.RWMutex
	rules      []Rule
	advisories *AdvisoryDB
}

// NewCatalog returns a catalog holding the built-in rules.
func NewCatalog() *Catalog {
	c := &Catalog{advisories: DefaultAdvisories()}
	c.rules = enabledOnly(Builtin())
	return c
}

// Load replaces the catalog contents with the enabled built-ins followed by
// the enabled custom rules. Custom rules must pass validation and must not
// reuse an id.
func (c *Catalog) Load(custom []Rule) error {
	rs := enabledOnly(Builtin())
	seen := make(map[string]bool, len(rs))
	for _, r := range rs {
		seen[r.ID] = true
	}
	for _, r := range custom {
		if !r.Enabled {
			continue
		}
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.ID] {
			return fmt.Errorf("rule %s: %w", r.ID, ErrDuplicateRule)
		}
		seen[r.ID] = true
		rs = append(rs, r)
	}

	c.mu.Lock()
	c.rules = rs
	c.mu.Unlock()
	return nil
}

// Apply loads a rule file: custom rules are added, disabled ids removed,
// severity overrides applied per category and the file's advisories merged
// over the built-in ones. Advisories from an earlier Apply are dropped.
func (c *Catalog) Apply(f *File) error {
	if f == nil {
		return nil
	}
	custom, err := f.CustomRules()
	if err != nil {
		return err
	}
	if err := c.Load(custom); err != nil {
		return err
	}
	for _, id := range f.Disable {
		c.RemoveRule(id)
	}
	overrides, err := f.Overrides()
	if err != nil {
		return err
	}
	if len(overrides) > 0 {
		c.mu.Lock()
		for i := range c.rules {
			if sev, ok := overrides[c.rules[i].Category]; ok {
				c.rules[i].Severity = sev
			}
		}
		c.mu.Unlock()
	}
	db := DefaultAdvisories()
	db.Add(f.Advisories...)
	c.mu.Lock()
	c.advisories = db
	c.mu.Unlock()
	return nil
}

// AddRule appends r after validating it. The catalog only holds enabled
// rules, so a disabled rule is rejected.
func (c *Catalog) AddRule(r Rule) error {
	if !r.Enabled {
		return fmt.Errorf("rule %s: %w", r.ID, ErrDisabledRule)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.rules {
		if existing.ID == r.ID {
			return fmt.Errorf("rule %s: %w", r.ID, ErrDuplicateRule)
		}
	}
	c.rules = append(c.rules, r)
	return nil
}

// RemoveRule deletes the rule with the given id and reports whether it existed.
func (c *Catalog) RemoveRule(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.rules {
		if r.ID == id {
			c.rules = append(c.rules[:i:i], c.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the rule with the given id.
func (c *Catalog) Get(id string) (Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// List returns a copy of the current rules.
func (c *Catalog) List() []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Rule(nil), c.rules...)
}

// Snapshot returns an immutable copy of the catalog.
func (c *Catalog) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{rules: enabledOnly(append([]Rule(nil), c.rules...)), advisories: c.advisories.Clone()}
}

// ByCategory groups the current rules by category.
func (c *Catalog) ByCategory() map[compliance.Category][]Rule {
	out := make(map[compliance.Category][]Rule)
	for _, r := range c.List() {
		out[r.Category] = append(out[r.Category], r)
	}
	return out
}

func enabledOnly(rs []Rule) []Rule {
	out := rs[:0]
	for _, r := range rs {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}
