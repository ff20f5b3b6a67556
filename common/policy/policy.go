// Package policy narrows which recommendations the controlled actioner may
// apply directly. Rules are CEL expressions over the change, loaded from YAML.
package policy

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"
)

// Kind selects the rule consulted for a change
type Kind string

const (
	KindGeneral  Kind = "general"
	KindStrategy Kind = "strategy"
)

// Rules is the YAML document. An empty rule allows everything its flag permits.
type Rules struct {
	General  string   `yaml:"general"`
	Strategy string   `yaml:"strategy"`
	DenyTags []string `yaml:"deny_tags"`
}

// Policy is a compiled rule set
type Policy struct {
	rules    Rules
	programs map[Kind]cel.Program
	source   string
}

// AllowAll is used when no policy file is configured
func AllowAll() *Policy {
	return &Policy{programs: map[Kind]cel.Program{}, source: "default"}
}

// Load reads and compiles a policy file
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	p.source = path
	return p, nil
}

// Parse compiles a policy document
func Parse(data []byte) (*Policy, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}

	env, err := cel.NewEnv(
		cel.Variable("change", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	p := &Policy{rules: rules, programs: make(map[Kind]cel.Program)}
	for kind, expr := range map[Kind]string{KindGeneral: rules.General, KindStrategy: rules.Strategy} {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}

		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("%s rule: CEL compilation error: %w", kind, issues.Err())
		}
		if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
			return nil, fmt.Errorf("%s rule must return bool, got %s", kind, ast.OutputType())
		}

		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("%s rule: failed to create CEL program: %w", kind, err)
		}
		p.programs[kind] = prg
	}

	return p, nil
}

// Source names where the policy came from
func (p *Policy) Source() string {
	return p.source
}

// Allows evaluates the rule for kind against a change rendered as a map.
// Changes carrying a denied tag are never allowed.
func (p *Policy) Allows(kind Kind, change map[string]any, tags []string) (bool, error) {
	for _, denied := range p.rules.DenyTags {
		for _, t := range tags {
			if t == denied {
				return false, nil
			}
		}
	}

	prg, ok := p.programs[kind]
	if !ok {
		return true, nil
	}

	out, _, err := prg.Eval(map[string]any{"change": change})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}
	return result, nil
}
