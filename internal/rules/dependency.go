package rules

import (
	"bufio"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"

	"github.com/dshills/compliancebot/internal/compliance"
)

// Dependency is one declared package in a manifest.
type Dependency struct {
	Ecosystem Ecosystem
	Name      string
	// Version is the constraint as written in the manifest.
	Version string
}

// DependencyRule flags manifest entries listed in an advisory database.
type DependencyRule struct {
	rule Rule
	db   *AdvisoryDB
}

// NewDependencyRule returns a dependency check backed by db.
func NewDependencyRule(r Rule, db *AdvisoryDB) *DependencyRule {
	return &DependencyRule{rule: r, db: db}
}

func (d *DependencyRule) Rule() Rule { return d.rule }

// Evaluate parses filename as a manifest when its base name is recognized.
// Other files yield nothing.
func (d *DependencyRule) Evaluate(filename, content string) ([]compliance.Finding, error) {
	deps, ok, err := ParseManifest(filename, content)
	if !ok {
		return nil, nil
	}
	if err != nil {
		return nil, &compliance.RuleError{RuleID: d.rule.ID, Err: fmt.Errorf("parsing %s: %w", filename, err)}
	}

	var findings []compliance.Finding
	for _, dep := range deps {
		if !d.db.Vulnerable(dep.Ecosystem, dep.Name, dep.Version) {
			continue
		}
		f := d.rule.finding(filename)
		f.Message = fmt.Sprintf("Vulnerable dependency: %s@%s", dep.Name, dep.Version)
		f.FixSuggestion = fmt.Sprintf("Update %s to latest secure version", dep.Name)
		findings = append(findings, f)
	}
	return findings, nil
}

// ParseManifest extracts dependencies from a recognized manifest. ok is false
// when filename is not a manifest.
func ParseManifest(filename, content string) (deps []Dependency, ok bool, err error) {
	switch path.Base(filename) {
	case "package.json":
		deps, err = parsePackageJSON(content)
	case "requirements.txt":
		deps = parseRequirements(content)
	case "go.mod":
		deps, err = parseGoMod(filename, content)
	default:
		return nil, false, nil
	}
	return deps, true, err
}

func parsePackageJSON(content string) ([]Dependency, error) {
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal([]byte(content), &pkg); err != nil {
		return nil, err
	}
	var deps []Dependency
	for _, group := range []map[string]string{pkg.Dependencies, pkg.DevDependencies} {
		names := make([]string, 0, len(group))
		for name := range group {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			deps = append(deps, Dependency{Ecosystem: EcosystemNPM, Name: name, Version: group[name]})
		}
	}
	return deps, nil
}

// parseRequirements reads pinned "name==version" lines. Comments, option
// lines and unpinned requirements are ignored.
func parseRequirements(content string) []Dependency {
	var deps []Dependency
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		name, version, found := strings.Cut(line, "==")
		if !found {
			continue
		}
		deps = append(deps, Dependency{
			Ecosystem: EcosystemPyPI,
			Name:      strings.ToLower(strings.TrimSpace(name)),
			Version:   strings.TrimSpace(version),
		})
	}
	return deps
}

func parseGoMod(filename, content string) ([]Dependency, error) {
	mf, err := modfile.ParseLax(filename, []byte(content), nil)
	if err != nil {
		return nil, err
	}
	deps := make([]Dependency, 0, len(mf.Require))
	for _, req := range mf.Require {
		deps = append(deps, Dependency{Ecosystem: EcosystemGo, Name: req.Mod.Path, Version: req.Mod.Version})
	}
	return deps, nil
}
