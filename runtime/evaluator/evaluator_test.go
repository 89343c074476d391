package evaluator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func evalScope() map[string]interface{} {
	return map[string]interface{}{
		"attempt":  2,
		"total":    10,
		"flag":     true,
		"failures": 2,
		"pyfloat":  3.9,
		"runner":   "macos-latest",
		"artifact": "python_junit.xml",
		"branch":   "release/1.2",
		"versions": []string{"3.8", "3.9", "3.11"},
		"matrix": map[string]interface{}{
			"os":             "ubuntu-latest",
			"python":         "3.9",
			"python-version": "3.9",
		},
		"needs": map[string]interface{}{
			"build-job": map[string]interface{}{"result": "success"},
		},
	}
}

func TestEvaluate(t *testing.T) {
	scope := evalScope()
	testCases := []struct {
		description string
		expr        string
		expect      interface{}
	}{
		{
			description: "integer arithmetic",
			expr:        "attempt + 1",
			expect:      3,
		},
		{
			description: "division returns float",
			expr:        "total / 4",
			expect:      2.5,
		},
		{
			description: "operator precedence",
			expr:        "10 + 5 * 2",
			expect:      20,
		},
		{
			description: "parenthesized expression",
			expr:        "(attempt + 3) * 2",
			expect:      10,
		},
		{
			description: "unary minus",
			expr:        "-5 + 10",
			expect:      5,
		},
		{
			description: "modulo",
			expr:        "total % 3",
			expect:      1,
		},
		{
			description: "string concatenation",
			expr:        "'py' + matrix.python",
			expect:      "py3.9",
		},
		{
			description: "selector navigation",
			expr:        "matrix.os",
			expect:      "ubuntu-latest",
		},
		{
			description: "selector equality",
			expr:        "matrix.os == 'macos-latest'",
			expect:      false,
		},
		{
			description: "string value equals numeric literal",
			expr:        "matrix.python == 3.9",
			expect:      true,
		},
		{
			description: "float value equals quoted text",
			expr:        "pyfloat == '3.9'",
			expect:      true,
		},
		{
			description: "numeric index",
			expr:        "versions[1]",
			expect:      "3.9",
		},
		{
			description: "quoted key with dash",
			expr:        "matrix['python-version']",
			expect:      "3.9",
		},
		{
			description: "selector on indexed value",
			expr:        "needs['build-job'].result",
			expect:      "success",
		},
		{
			description: "logical and",
			expr:        "matrix.os == 'ubuntu-latest' && matrix.python == 3.9",
			expect:      true,
		},
		{
			description: "logical or",
			expr:        "matrix.os == 'windows-latest' || flag",
			expect:      true,
		},
		{
			description: "negation",
			expr:        "!flag",
			expect:      false,
		},
		{
			description: "comparison",
			expr:        "failures > 0",
			expect:      true,
		},
		{
			description: "lexical string ordering",
			expr:        "'3.11' < '3.9'",
			expect:      true,
		},
		{
			description: "boolean literal",
			expr:        "true",
			expect:      true,
		},
		{
			description: "unknown reference is nil",
			expr:        "unknown.path",
			expect:      nil,
		},
		{
			description: "len of slice",
			expr:        "len(versions)",
			expect:      3,
		},
		{
			description: "len comparison",
			expr:        "len(versions) >= 2",
			expect:      true,
		},
		{
			description: "contains substring ignores case",
			expr:        "contains('Ubuntu-Latest', 'ubuntu')",
			expect:      true,
		},
		{
			description: "contains slice element",
			expr:        "contains(versions, '3.9')",
			expect:      true,
		},
		{
			description: "startsWith",
			expr:        "startsWith(runner, 'macos')",
			expect:      true,
		},
		{
			description: "endsWith",
			expr:        "endsWith(artifact, '.xml')",
			expect:      true,
		},
		{
			description: "matches regex",
			expr:        "matches(branch, '^release/')",
			expect:      true,
		},
		{
			description: "join with separator",
			expr:        "join(versions, '|')",
			expect:      "3.8|3.9|3.11",
		},
	}

	for _, testCase := range testCases {
		actual := Evaluate(testCase.expr, scope)
		assert.Equal(t, testCase.expect, actual, testCase.description)
	}
}

func TestEvaluate_DivisionByZero(t *testing.T) {
	result := Evaluate("total / 0", evalScope())
	value, ok := result.(float64)
	assert.True(t, ok)
	assert.True(t, math.IsInf(value, 1))
}

func TestResolve(t *testing.T) {
	type report struct {
		Stdout string
		Total  int
	}
	scope := map[string]interface{}{
		"runner":   "macos-latest",
		"versions": []string{"3.8", "3.9"},
		"env":      map[string]string{"PATH": "/usr/bin"},
		"counts":   map[string]int{"tests": 42},
		"report":   &report{Stdout: "ok", Total: 7},
		"matrix": map[string]interface{}{
			"python-version": "3.9",
		},
		"suites": []interface{}{
			map[string]interface{}{"name": "unit", "failures": 0},
		},
	}

	testCases := []struct {
		description string
		path        string
		expect      interface{}
	}{
		{
			description: "top level value",
			path:        "runner",
			expect:      "macos-latest",
		},
		{
			description: "string map entry",
			path:        "env.PATH",
			expect:      "/usr/bin",
		},
		{
			description: "typed map entry",
			path:        "counts.tests",
			expect:      42,
		},
		{
			description: "struct field through pointer",
			path:        "report.Total",
			expect:      7,
		},
		{
			description: "struct field case fold",
			path:        "report.stdout",
			expect:      "ok",
		},
		{
			description: "quoted bracket key",
			path:        "matrix['python-version']",
			expect:      "3.9",
		},
		{
			description: "numeric index",
			path:        "versions[0]",
			expect:      "3.8",
		},
		{
			description: "index then key",
			path:        "suites[0].name",
			expect:      "unit",
		},
		{
			description: "index out of range",
			path:        "versions[9]",
			expect:      nil,
		},
		{
			description: "unknown root",
			path:        "nope.x",
			expect:      nil,
		},
		{
			description: "leading index is rejected",
			path:        "[0]",
			expect:      nil,
		},
	}

	for _, testCase := range testCases {
		actual := Resolve(testCase.path, scope)
		assert.Equal(t, testCase.expect, actual, testCase.description)
	}
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "3.9", Stringify(3.9))
	assert.Equal(t, "3", Stringify(3.0))
	assert.Equal(t, "42", Stringify(42))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "text", Stringify("text"))
	assert.Equal(t, "", Stringify(nil))
}
