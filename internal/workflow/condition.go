// Package workflow interprets declarative step sequences: it walks a
// workflow's steps, dispatches agent tasks through the orchestrator,
// branches on runtime conditions, and persists run state after every step.
package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/taskcrew/taskcrew/pkg/models"
)

// ConditionEvaluator decides condition-step branching from a runtime
// expression and the run's context.
type ConditionEvaluator interface {
	Evaluate(expr string, exec *models.WorkflowExecution) (bool, error)
}

// comparisonOps is scanned in order; the first operator found in the
// expression wins. Longer operators come first so "===" is not split as
// "==", and "!==" is checked before "==" for the same reason.
var comparisonOps = []string{"===", "!==", "==", "!=", ">=", "<=", ">", "<"}

// ExprEvaluator evaluates the small expression language used by condition
// steps. Supported forms, checked in order:
//
//	path.exists          true when the path resolves
//	left contains right  substring check, or element membership when the
//	                     left value is a list
//	left <op> right      comparison with one of ===, !==, ==, !=, >=, <=, >, <
//	path                 bare truthiness of the resolved value
//
// Paths resolve against the run context: an explicit "input." or "results."
// prefix selects a namespace; bare names check input first, then results.
type ExprEvaluator struct{}

// NewEvaluator creates the standard expression evaluator.
func NewEvaluator() *ExprEvaluator {
	return &ExprEvaluator{}
}

// Evaluate returns the boolean outcome of the expression.
func (ev *ExprEvaluator) Evaluate(expr string, exec *models.WorkflowExecution) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, fmt.Errorf("empty condition expression")
	}

	if strings.HasSuffix(expr, ".exists") {
		path := strings.TrimSuffix(expr, ".exists")
		_, ok := resolvePath(path, exec)
		return ok, nil
	}

	if left, right, ok := splitOnce(expr, " contains "); ok {
		lv := leftOperand(left, exec)
		rv := rightOperand(right, exec)
		if items, isList := lv.([]any); isList {
			want := render(rv)
			for _, item := range items {
				if render(item) == want {
					return true, nil
				}
			}
			return false, nil
		}
		return strings.Contains(render(lv), render(rv)), nil
	}

	for _, op := range comparisonOps {
		if left, right, ok := splitOnce(expr, op); ok {
			lv := leftOperand(left, exec)
			rv := rightOperand(right, exec)
			return compare(lv, op, rv)
		}
	}

	v, _ := resolvePath(expr, exec)
	return truthy(v), nil
}

// splitOnce splits expr at the first occurrence of sep, trimming both sides.
func splitOnce(expr, sep string) (left, right string, ok bool) {
	idx := strings.Index(expr, sep)
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(expr[:idx]), strings.TrimSpace(expr[idx+len(sep):]), true
}

// leftOperand resolves the left side of a comparison: a context path when
// one matches, a recognized literal otherwise, and nil for an identifier
// that resolves to nothing. The nil fallback makes "missing == null" hold.
func leftOperand(s string, exec *models.WorkflowExecution) any {
	if v, ok := resolvePath(s, exec); ok {
		return v
	}
	if v, ok := parseLiteral(s); ok {
		return v
	}
	return nil
}

// rightOperand resolves the right side: a context path, a recognized
// literal, or the raw text as a string.
func rightOperand(s string, exec *models.WorkflowExecution) any {
	if v, ok := resolvePath(s, exec); ok {
		return v
	}
	if v, ok := parseLiteral(s); ok {
		return v
	}
	return strings.TrimSpace(s)
}

// parseLiteral recognizes boolean, null, numeric and quoted-string
// literals, in that precedence.
func parseLiteral(s string) (any, bool) {
	s = strings.TrimSpace(s)
	switch s {
	case "true":
		return true, true
	case "false":
		return false, true
	case "null":
		return nil, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1], true
		}
	}
	return nil, false
}

// resolvePath walks a dotted path through the run context.
func resolvePath(path string, exec *models.WorkflowExecution) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" || exec == nil {
		return nil, false
	}
	segs := strings.Split(path, ".")

	switch segs[0] {
	case "input":
		return walk(exec.Input(), segs[1:])
	case "results":
		return walk(exec.Results(), segs[1:])
	}
	if v, ok := walk(exec.Input(), segs); ok {
		return v, true
	}
	return walk(exec.Results(), segs)
}

// walk descends nested maps segment by segment.
func walk(m map[string]any, segs []string) (any, bool) {
	if len(segs) == 0 {
		return m, true
	}
	var cur any = m
	for _, seg := range segs {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// compare applies a comparison operator to two resolved operands.
func compare(left any, op string, right any) (bool, error) {
	switch op {
	case "===", "==":
		return looseEqual(left, right), nil
	case "!==", "!=":
		return !looseEqual(left, right), nil
	}

	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch op {
		case ">=":
			return lf >= rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case "<":
			return lf < rf, nil
		}
	}

	// Fall back to lexicographic comparison for non-numeric operands.
	ls, rs := render(left), render(right)
	switch op {
	case ">=":
		return ls >= rs, nil
	case "<=":
		return ls <= rs, nil
	case ">":
		return ls > rs, nil
	case "<":
		return ls < rs, nil
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

// looseEqual compares operands numerically when both convert, otherwise by
// rendered string.
func looseEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		return lf == rf
	}
	return render(left) == render(right)
}

// toFloat converts numeric values (and numeric strings) to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// render produces the string form of a value for contains checks,
// membership checks and string comparison.
func render(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truthy reports the boolean weight of a resolved value: nil, false, empty
// strings, zero numbers and empty collections are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}
