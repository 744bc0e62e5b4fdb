// Package scope defines the authorization scope for a testing run and the
// pattern matching used to decide whether a target falls inside it.
//
// Patterns are compared structurally and never compiled as regular
// expressions, so scope files cannot inject expression syntax.
package scope

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is the parsed scope file for one run. It is loaded once and
// treated as immutable for the run's lifetime.
type Definition struct {
	// InScope lists targets the program authorizes for testing.
	InScope []string `json:"in_scope" yaml:"in_scope"`

	// OutOfScope lists explicit exclusions. These always win over InScope.
	OutOfScope []string `json:"out_of_scope" yaml:"out_of_scope"`
}

// Load reads a scope definition from a JSON or YAML file. YAML is a
// superset of JSON, so one parser covers both formats.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scope file: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse scope file %s: %w", path, err)
	}
	if len(def.InScope) == 0 && len(def.OutOfScope) == 0 {
		return nil, fmt.Errorf("scope file %s defines no patterns", path)
	}
	return &def, nil
}

// Matches reports whether target matches a single scope pattern.
//
// Rules, in priority order:
//  1. exact string equality
//  2. "*.example.com" matches "example.com" itself and any host ending in
//     ".example.com"; a host that merely ends in the same characters
//     ("notexample.com") does not match
//  3. a plain pattern matches any subdomain of it ("example.com" covers
//     "api.example.com" but not "notexample.com")
func Matches(target, pattern string) bool {
	if target == pattern {
		return true
	}

	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[2:]
		if target == suffix || strings.HasSuffix(target, "."+suffix) {
			return true
		}
	}

	return strings.HasSuffix(target, "."+pattern)
}

// MatchesAny reports whether target matches any of the given patterns,
// returning the first matching pattern.
func MatchesAny(target string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if Matches(target, p) {
			return p, true
		}
	}
	return "", false
}

// MatchesInScope reports whether target matches an in-scope pattern.
func (d *Definition) MatchesInScope(target string) (string, bool) {
	return MatchesAny(target, d.InScope)
}

// MatchesOutOfScope reports whether target matches an exclusion.
func (d *Definition) MatchesOutOfScope(target string) (string, bool) {
	return MatchesAny(target, d.OutOfScope)
}
