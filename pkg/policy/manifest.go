package policy

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one tagged regex in the manifest. Patterns are matched
// case-insensitively against the template identifier of a candidate
// action.
type Rule struct {
	ID      string `json:"id" yaml:"id"`
	Pattern string `json:"pattern" yaml:"pattern"`
	Notes   string `json:"notes,omitempty" yaml:"notes,omitempty"`

	re *regexp.Regexp
}

// Manifest is an ordered set of rules that classify scanner actions.
// Rules are evaluated in declaration order and the first match wins.
type Manifest struct {
	Blocked            []Rule `json:"blocked_patterns" yaml:"blocked_patterns"`
	RequiresValidation []Rule `json:"requires_validation" yaml:"requires_validation"`
}

// DefaultManifest returns the built-in rule set. It blocks template
// classes associated with exploitation or disruption and flags
// authentication-adjacent classes for validation.
func DefaultManifest() *Manifest {
	m := &Manifest{
		Blocked: []Rule{
			{ID: "rce-templates", Pattern: `(rce|remote[-_]?exec|command[-_]?injection)`},
			{ID: "sql-exploit", Pattern: `(sqlmap|sql[-_]?injection[-_]?exploit)`},
			{ID: "file-upload-exec", Pattern: `(upload[-_]?exec|webshell)`},
			{ID: "dos-attacks", Pattern: `(dos|denial[-_]?of[-_]?service|slowloris)`},
		},
		RequiresValidation: []Rule{
			{ID: "auth-bypass", Pattern: `(auth[-_]?bypass|authentication)`},
			{ID: "file-inclusion", Pattern: `(lfi|rfi|file[-_]?inclusion)`},
		},
	}
	if err := m.compile(); err != nil {
		// Built-in patterns are constants; a compile failure is a bug.
		panic(err)
	}
	return m
}

// LoadManifest reads a rule manifest from a YAML or JSON file. An
// invalid pattern is a configuration error, not a runtime decision.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Blocked) == 0 && len(m.RequiresValidation) == 0 {
		return nil, fmt.Errorf("manifest %s defines no rules", path)
	}
	if err := m.compile(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) compile() error {
	for i := range m.Blocked {
		if err := m.Blocked[i].compile(); err != nil {
			return err
		}
	}
	for i := range m.RequiresValidation {
		if err := m.RequiresValidation[i].compile(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rule) compile() error {
	if r.ID == "" {
		return fmt.Errorf("manifest rule with pattern %q has no id", r.Pattern)
	}
	re, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return fmt.Errorf("manifest rule %s: %w", r.ID, err)
	}
	r.re = re
	return nil
}

func (r *Rule) matches(template string) bool {
	return r.re.MatchString(strings.ToLower(template))
}

// MatchBlocked returns the first blocking rule matching the template,
// if any.
func (m *Manifest) MatchBlocked(template string) (*Rule, bool) {
	for i := range m.Blocked {
		if m.Blocked[i].matches(template) {
			return &m.Blocked[i], true
		}
	}
	return nil, false
}

// MatchRequiresValidation returns the first validation rule matching
// the template, if any. Blocking rules take precedence and must be
// checked first.
func (m *Manifest) MatchRequiresValidation(template string) (*Rule, bool) {
	for i := range m.RequiresValidation {
		if m.RequiresValidation[i].matches(template) {
			return &m.RequiresValidation[i], true
		}
	}
	return nil, false
}
