package ai

import (
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// SavePolicy is an optional user-defined gate on which conversation turns
// get persisted, expressed in CEL over the variables `text`, `speaker`
// and `entity`. Example: `speaker == "user" && text.contains("remember")`.
type SavePolicy struct {
	expr string
	prg  cel.Program
}

// CompileSavePolicy compiles a policy expression. An empty expression
// returns (nil, nil): no policy, everything allowed.
func CompileSavePolicy(expr string) (*SavePolicy, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("text", cel.StringType),
		cel.Variable("speaker", cel.StringType),
		cel.Variable("entity", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create CEL environment")
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "invalid save policy %q", expr)
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errors.Errorf("save policy %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build save policy program")
	}
	return &SavePolicy{expr: expr, prg: prg}, nil
}

// Expr returns the source expression.
func (p *SavePolicy) Expr() string {
	if p == nil {
		return ""
	}
	return p.expr
}

// Allow evaluates the policy for one turn. A nil policy allows
// everything; an evaluation error vetoes the save.
func (p *SavePolicy) Allow(text, speaker, entity string) bool {
	if p == nil {
		return true
	}
	out, _, err := p.prg.Eval(map[string]any{
		"text":    text,
		"speaker": speaker,
		"entity":  entity,
	})
	if err != nil {
		return false
	}
	allowed, ok := out.Value().(bool)
	return ok && allowed
}
