package evaluator

import "strings"

// Status carries the outcome context a condition is evaluated under.
// A step condition sees the status of the steps that ran before it in
// the same job, a job condition sees the status of the jobs it needs.
type Status struct {
	Failed    bool
	Cancelled bool
}

// Success reports whether nothing in scope has failed or been cancelled.
func (s Status) Success() bool { return !s.Failed && !s.Cancelled }

// Condition evaluates an "if" expression under the given status. An
// absent condition behaves like success(): the step or job runs only
// while its scope is clean. The same implicit success() guards any
// expression that names no status function, so "matrix.os == 'linux'"
// alone never resurrects a failed run. The expression may be wrapped
// in ${...}; the status functions always(), success(), failure() and
// cancelled() resolve against status, everything else against scope.
func Condition(expr string, status Status, scope map[string]interface{}) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return status.Success()
	}
	if inner, ok := unwrapBraces(expr); ok {
		expr = inner
	}
	if !hasStatusFunc(expr) && !status.Success() {
		return false
	}
	return IsTruthy(evalWith(expr, status, scope))
}

func hasStatusFunc(expr string) bool {
	folded := strings.ToLower(expr)
	for _, name := range [...]string{"always(", "success(", "failure(", "cancelled(", "canceled("} {
		if strings.Contains(folded, name) {
			return true
		}
	}
	return false
}

// IsTruthy reports whether a value counts as true in a condition.
// Booleans are used as-is; nil, empty strings, "false", "0" and numeric
// zero are false; everything else is true.
func IsTruthy(value interface{}) bool {
	switch actual := value.(type) {
	case nil:
		return false
	case bool:
		return actual
	case string:
		folded := strings.TrimSpace(strings.ToLower(actual))
		return folded != "" && folded != "false" && folded != "0"
	}
	if isNumeric(value) {
		return toFloat64(value) != 0
	}
	return true
}

// unwrapBraces strips a ${...} wrapper when it spans the whole
// expression.
func unwrapBraces(expr string) (string, bool) {
	if !strings.HasPrefix(expr, "${") || !strings.HasSuffix(expr, "}") {
		return expr, false
	}
	depth := 0
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				if i == len(expr)-1 {
					return expr[2 : len(expr)-1], true
				}
				return expr, false
			}
		}
	}
	return expr, false
}
