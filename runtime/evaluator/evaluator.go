// Package evaluator evaluates the expression language used by pipeline
// conditions and variable references. Expressions are parsed with
// go/parser, so the syntax is Go-like: selectors navigate the scope
// ("matrix.os"), brackets index slices and maps ("needs['build-job']"),
// and the usual arithmetic, comparison and logical operators apply.
package evaluator

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

var singleQuoted = regexp.MustCompile(`'([^']*)'`)

// Evaluate parses and evaluates an expression against the supplied
// scope. Identifiers and selector chains resolve through Resolve, so
// "attempt + 1" and "matrix.python == '3.9'" both work. References
// that cannot be resolved evaluate to nil.
func Evaluate(expr string, scope map[string]interface{}) interface{} {
	return evalWith(expr, Status{}, scope)
}

func evalWith(expr string, status Status, scope map[string]interface{}) interface{} {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	// Single-quoted literals are common in pipeline files, go/parser
	// wants double quotes.
	normalized := singleQuoted.ReplaceAllString(expr, `"$1"`)
	node, err := parser.ParseExpr(normalized)
	if err != nil {
		// Not an expression, treat the whole string as a navigation path.
		return Resolve(expr, scope)
	}
	ctx := &evalContext{status: status, scope: scope}
	return ctx.eval(node)
}

type evalContext struct {
	status Status
	scope  map[string]interface{}
}

func (c *evalContext) eval(node ast.Expr) interface{} {
	switch actual := node.(type) {
	case *ast.BasicLit:
		return literalValue(actual)

	case *ast.Ident:
		switch actual.Name {
		case "true":
			return true
		case "false":
			return false
		case "nil", "null":
			return nil
		}
		return c.scope[actual.Name]

	case *ast.SelectorExpr:
		if path, ok := flattenPath(actual); ok {
			return Resolve(path, c.scope)
		}
		base := c.eval(actual.X)
		value, _ := lookupKey(base, actual.Sel.Name)
		return value

	case *ast.IndexExpr:
		base := c.eval(actual.X)
		switch index := c.eval(actual.Index).(type) {
		case string:
			value, _ := lookupKey(base, index)
			return value
		case int:
			return elementAt(base, index)
		case float64:
			return elementAt(base, int(index))
		}
		return nil

	case *ast.ParenExpr:
		return c.eval(actual.X)

	case *ast.UnaryExpr:
		return c.unary(actual)

	case *ast.BinaryExpr:
		return c.binary(actual)

	case *ast.CallExpr:
		return c.call(actual)
	}
	return nil
}

func (c *evalContext) unary(node *ast.UnaryExpr) interface{} {
	operand := c.eval(node.X)
	switch node.Op {
	case token.SUB:
		switch value := operand.(type) {
		case int:
			return -value
		case float64:
			return -value
		}
	case token.NOT:
		return !IsTruthy(operand)
	}
	return nil
}

func (c *evalContext) binary(node *ast.BinaryExpr) interface{} {
	switch node.Op {
	case token.LAND:
		return IsTruthy(c.eval(node.X)) && IsTruthy(c.eval(node.Y))
	case token.LOR:
		return IsTruthy(c.eval(node.X)) || IsTruthy(c.eval(node.Y))
	}
	x := c.eval(node.X)
	y := c.eval(node.Y)
	switch node.Op {
	case token.ADD:
		return add(x, y)
	case token.SUB:
		return subtract(x, y)
	case token.MUL:
		return multiply(x, y)
	case token.QUO:
		return divide(x, y)
	case token.REM:
		return modulo(x, y)
	case token.EQL:
		return looseEqual(x, y)
	case token.NEQ:
		return !looseEqual(x, y)
	case token.LSS:
		return compare(x, y) < 0
	case token.GTR:
		return compare(x, y) > 0
	case token.LEQ:
		return compare(x, y) <= 0
	case token.GEQ:
		return compare(x, y) >= 0
	}
	return nil
}

// call dispatches the built-in condition functions. Names are matched
// case-insensitively.
func (c *evalContext) call(node *ast.CallExpr) interface{} {
	ident, ok := node.Fun.(*ast.Ident)
	if !ok {
		return nil
	}
	args := make([]interface{}, len(node.Args))
	for i, arg := range node.Args {
		args[i] = c.eval(arg)
	}
	switch strings.ToLower(ident.Name) {
	case "always":
		return true
	case "success":
		return c.status.Success()
	case "failure":
		return c.status.Failed
	case "cancelled", "canceled":
		return c.status.Cancelled
	case "len":
		if len(args) == 1 {
			return lengthOf(args[0])
		}
	case "contains":
		if len(args) == 2 {
			return contains(args[0], args[1])
		}
	case "startswith":
		if len(args) == 2 {
			return strings.HasPrefix(foldValue(args[0]), foldValue(args[1]))
		}
	case "endswith":
		if len(args) == 2 {
			return strings.HasSuffix(foldValue(args[0]), foldValue(args[1]))
		}
	case "matches":
		if len(args) == 2 {
			pattern, err := regexp.Compile(Stringify(args[1]))
			if err != nil {
				return false
			}
			return pattern.MatchString(Stringify(args[0]))
		}
	case "join":
		switch len(args) {
		case 1:
			return joinValues(args[0], ",")
		case 2:
			return joinValues(args[0], Stringify(args[1]))
		}
	}
	return nil
}

// flattenPath rebuilds the textual path of a selector chain, so that
// "needs.build.outputs" resolves as one navigation. It gives up when
// the chain hangs off a computed value.
func flattenPath(expr ast.Expr) (string, bool) {
	switch actual := expr.(type) {
	case *ast.Ident:
		return actual.Name, true
	case *ast.SelectorExpr:
		base, ok := flattenPath(actual.X)
		if !ok {
			return "", false
		}
		return base + "." + actual.Sel.Name, true
	}
	return "", false
}

func literalValue(lit *ast.BasicLit) interface{} {
	switch lit.Kind {
	case token.INT:
		value, _ := strconv.Atoi(lit.Value)
		return value
	case token.FLOAT:
		value, _ := strconv.ParseFloat(lit.Value, 64)
		return value
	case token.STRING, token.CHAR:
		if unquoted, err := strconv.Unquote(lit.Value); err == nil {
			return unquoted
		}
		return strings.Trim(lit.Value, `"'`)
	}
	return nil
}

// looseEqual compares values the way pipeline conditions expect:
// numbers compare by value regardless of type, and a number compares
// equal to its canonical text form, so 3.9 == "3.9" holds.
func looseEqual(x, y interface{}) bool {
	if x == nil || y == nil {
		return x == nil && y == nil
	}
	if isNumeric(x) && isNumeric(y) {
		return toFloat64(x) == toFloat64(y)
	}
	if isNumeric(x) || isNumeric(y) {
		return Stringify(x) == Stringify(y)
	}
	return reflect.DeepEqual(x, y)
}

// compare returns -1, 0 or 1. Strings order lexically, everything else
// numerically.
func compare(x, y interface{}) int {
	if sx, okX := x.(string); okX {
		if sy, okY := y.(string); okY {
			return strings.Compare(sx, sy)
		}
	}
	fx, fy := toFloat64(x), toFloat64(y)
	switch {
	case fx < fy:
		return -1
	case fx > fy:
		return 1
	}
	return 0
}

func add(x, y interface{}) interface{} {
	if sx, ok := x.(string); ok {
		return sx + Stringify(y)
	}
	if sy, ok := y.(string); ok {
		return Stringify(x) + sy
	}
	if isIntType(x) && isIntType(y) {
		return toInt(x) + toInt(y)
	}
	return toFloat64(x) + toFloat64(y)
}

func subtract(x, y interface{}) interface{} {
	if isIntType(x) && isIntType(y) {
		return toInt(x) - toInt(y)
	}
	return toFloat64(x) - toFloat64(y)
}

func multiply(x, y interface{}) interface{} {
	if isIntType(x) && isIntType(y) {
		return toInt(x) * toInt(y)
	}
	return toFloat64(x) * toFloat64(y)
}

// divide always returns a float to avoid silent truncation.
func divide(x, y interface{}) interface{} {
	if toFloat64(y) == 0 {
		return math.Inf(1)
	}
	return toFloat64(x) / toFloat64(y)
}

func modulo(x, y interface{}) interface{} {
	if isIntType(x) && isIntType(y) && toInt(y) != 0 {
		return toInt(x) % toInt(y)
	}
	divisor := toFloat64(y)
	if divisor == 0 {
		return math.NaN()
	}
	return math.Mod(toFloat64(x), divisor)
}

func lengthOf(value interface{}) int {
	if value == nil {
		return 0
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String:
		return len(rv.String())
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len()
	}
	return 0
}

// contains reports membership for slices and case-insensitive substring
// match for everything else.
func contains(haystack, needle interface{}) bool {
	if haystack == nil {
		return false
	}
	rv := reflect.ValueOf(haystack)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if !rv.Index(i).CanInterface() {
				continue
			}
			if looseEqual(rv.Index(i).Interface(), needle) {
				return true
			}
		}
		return false
	}
	return strings.Contains(foldValue(haystack), foldValue(needle))
}

func joinValues(value interface{}, separator string) string {
	if value == nil {
		return ""
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		parts := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if !rv.Index(i).CanInterface() {
				continue
			}
			parts = append(parts, Stringify(rv.Index(i).Interface()))
		}
		return strings.Join(parts, separator)
	}
	return Stringify(value)
}

func foldValue(value interface{}) string {
	return strings.ToLower(Stringify(value))
}

func isNumeric(value interface{}) bool {
	return isIntType(value) || isFloatType(value)
}

func isIntType(value interface{}) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func isFloatType(value interface{}) bool {
	switch value.(type) {
	case float32, float64:
		return true
	}
	return false
}

func toInt(value interface{}) int {
	switch actual := value.(type) {
	case int:
		return actual
	case int8:
		return int(actual)
	case int16:
		return int(actual)
	case int32:
		return int(actual)
	case int64:
		return int(actual)
	case uint:
		return int(actual)
	case uint8:
		return int(actual)
	case uint16:
		return int(actual)
	case uint32:
		return int(actual)
	case uint64:
		return int(actual)
	case float32:
		return int(actual)
	case float64:
		return int(actual)
	case string:
		parsed, _ := strconv.Atoi(actual)
		return parsed
	}
	return 0
}

func toFloat64(value interface{}) float64 {
	switch actual := value.(type) {
	case int:
		return float64(actual)
	case int8:
		return float64(actual)
	case int16:
		return float64(actual)
	case int32:
		return float64(actual)
	case int64:
		return float64(actual)
	case uint:
		return float64(actual)
	case uint8:
		return float64(actual)
	case uint16:
		return float64(actual)
	case uint32:
		return float64(actual)
	case uint64:
		return float64(actual)
	case float32:
		return float64(actual)
	case float64:
		return actual
	case string:
		parsed, _ := strconv.ParseFloat(actual, 64)
		return parsed
	}
	return 0
}

// Stringify renders a value the way it interpolates into text. Floats
// drop their trailing zeros, so float64(3.9) becomes "3.9" and
// float64(3) becomes "3".
func Stringify(value interface{}) string {
	if value == nil {
		return ""
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.String:
		return rv.String()
	}
	return fmt.Sprintf("%v", value)
}
