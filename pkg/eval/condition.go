package eval

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/ormasoftchile/stockpipe/pkg/env"
)

// Condition evaluates a `when` guard using expr-lang against a snapshot of
// the Environment. Supports: ext == ".png", value > 2, filename startsWith "a".
// An empty expression is always true.
func Condition(exprStr string, e *env.Environment) (bool, error) {
	exprStr = strings.TrimSpace(exprStr)
	if exprStr == "" {
		return true, nil
	}

	vars := e.Snapshot()
	program, err := expr.Compile(exprStr, expr.Env(vars), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", exprStr, err)
	}
	output, err := expr.Run(program, vars)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", exprStr, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T: %v)", exprStr, output, output)
	}
	return result, nil
}

// CheckCondition compiles a guard without an environment, so validation can
// catch syntax errors before a run starts.
func CheckCondition(exprStr string) error {
	exprStr = strings.TrimSpace(exprStr)
	if exprStr == "" {
		return nil
	}
	if _, err := expr.Compile(exprStr, expr.AllowUndefinedVariables()); err != nil {
		return fmt.Errorf("compile condition %q: %w", exprStr, err)
	}
	return nil
}
