package rules

import (
	"sort"
	"strings"
	"sync"
)

// Ecosystem names a package manager.
type Ecosystem string

const (
	EcosystemNPM  Ecosystem = "npm"
	EcosystemPyPI Ecosystem = "pypi"
	EcosystemGo   Ecosystem = "go"
)

// Advisory marks exact versions of a package as vulnerable.
type Advisory struct {
	Ecosystem Ecosystem `json:"ecosystem" yaml:"ecosystem"`
	Package   string    `json:"package" yaml:"package"`
	Versions  []string  `json:"versions" yaml:"versions"`
}

// AdvisoryDB is a lookup of vulnerable package versions. It is safe for
// concurrent use.
type AdvisoryDB struct {
	mu      sync.RWMutex
	entries map[Ecosystem]map[string]map[string]bool
}

// NewAdvisoryDB returns a database holding the given advisories.
func NewAdvisoryDB(advisories ...Advisory) *AdvisoryDB {
	db := &AdvisoryDB{entries: make(map[Ecosystem]map[string]map[string]bool)}
	db.Add(advisories...)
	return db
}

// DefaultAdvisories returns a fresh copy of the built-in advisories.
func DefaultAdvisories() *AdvisoryDB {
	return NewAdvisoryDB(
		Advisory{Ecosystem: EcosystemNPM, Package: "express", Versions: []string{"4.0.0", "4.1.0", "4.2.0"}},
		Advisory{Ecosystem: EcosystemNPM, Package: "lodash", Versions: []string{"4.17.0", "4.17.1"}},
		Advisory{Ecosystem: EcosystemNPM, Package: "axios", Versions: []string{"0.18.0", "0.19.0"}},
		Advisory{Ecosystem: EcosystemNPM, Package: "crypto-js", Versions: []string{"3.1.2", "3.1.3"}},
		Advisory{Ecosystem: EcosystemPyPI, Package: "pyyaml", Versions: []string{"5.1", "5.3"}},
		Advisory{Ecosystem: EcosystemPyPI, Package: "requests", Versions: []string{"2.19.0"}},
		Advisory{Ecosystem: EcosystemPyPI, Package: "jinja2", Versions: []string{"2.10"}},
		Advisory{Ecosystem: EcosystemGo, Package: "github.com/dgrijalva/jwt-go", Versions: []string{"3.2.0+incompatible"}},
		Advisory{Ecosystem: EcosystemGo, Package: "golang.org/x/text", Versions: []string{"0.3.5", "0.3.6"}},
	)
}

// Add merges advisories into the database.
func (db *AdvisoryDB) Add(advisories ...Advisory) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, a := range advisories {
		pkgs := db.entries[a.Ecosystem]
		if pkgs == nil {
			pkgs = make(map[string]map[string]bool)
			db.entries[a.Ecosystem] = pkgs
		}
		name := normalizePackage(a.Ecosystem, a.Package)
		versions := pkgs[name]
		if versions == nil {
			versions = make(map[string]bool)
			pkgs[name] = versions
		}
		for _, v := range a.Versions {
			versions[cleanVersion(v)] = true
		}
	}
}

// Clone returns an independent copy of db.
func (db *AdvisoryDB) Clone() *AdvisoryDB {
	return NewAdvisoryDB(db.List()...)
}

// Vulnerable reports whether the exact version of pkg is listed.
func (db *AdvisoryDB) Vulnerable(eco Ecosystem, pkg, version string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.entries[eco][normalizePackage(eco, pkg)][cleanVersion(version)]
}

// List returns all advisories sorted by ecosystem and package.
func (db *AdvisoryDB) List() []Advisory {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []Advisory
	for eco, pkgs := range db.entries {
		for name, versions := range pkgs {
			a := Advisory{Ecosystem: eco, Package: name}
			for v := range versions {
				a.Versions = append(a.Versions, v)
			}
			sort.Strings(a.Versions)
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ecosystem != out[j].Ecosystem {
			return out[i].Ecosystem < out[j].Ecosystem
		}
		return out[i].Package < out[j].Package
	})
	return out
}

// PyPI names are case-insensitive; npm and Go module paths are not.
func normalizePackage(eco Ecosystem, name string) string {
	name = strings.TrimSpace(name)
	if eco == EcosystemPyPI {
		return strings.ToLower(name)
	}
	return name
}

// cleanVersion strips range operators and a leading "v".
func cleanVersion(v string) string {
	v = strings.TrimSpace(v)
	v = strings.NewReplacer("^", "", "~", "").Replace(v)
	return strings.TrimPrefix(v, "v")
}
