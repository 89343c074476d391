package expander

import (
	"reflect"
	"testing"
)

func expandScope() map[string]interface{} {
	return map[string]interface{}{
		"runner":  "macos-latest",
		"attempt": 2,
		"total":   10,
		"enabled": true,
		"matrix": map[string]interface{}{
			"os":     "ubuntu-latest",
			"python": "3.9",
		},
		"versions": []interface{}{"3.8", "3.9", "3.11"},
		"parts":    []interface{}{10, 20, 30},
		"suites": []interface{}{
			map[string]interface{}{"name": "unit"},
			map[string]interface{}{"name": "integration"},
		},
		"counts": map[string]interface{}{"failed": 1, "passed": 41},
	}
}

func TestExpandString(t *testing.T) {
	type testCase struct {
		name   string
		value  string
		expect interface{}
	}

	tests := []testCase{
		{
			name:   "simple variable",
			value:  "$runner",
			expect: "macos-latest",
		},
		{
			name:   "braced variable",
			value:  "${runner}",
			expect: "macos-latest",
		},
		{
			name:   "braced reference in text",
			value:  "running on ${runner}",
			expect: "running on macos-latest",
		},
		{
			name:   "simple reference in text",
			value:  "running on $runner",
			expect: "running on macos-latest",
		},
		{
			name:   "multiple braced references",
			value:  "${matrix.os} with python ${matrix.python}",
			expect: "ubuntu-latest with python 3.9",
		},
		{
			name:   "multiple simple references",
			value:  "$matrix.os with python $matrix.python",
			expect: "ubuntu-latest with python 3.9",
		},
		{
			name:   "mixed reference styles",
			value:  "$runner runs ${matrix.python}",
			expect: "macos-latest runs 3.9",
		},
		{
			name:   "repeated reference",
			value:  "${runner} ${runner} ${runner}",
			expect: "macos-latest macos-latest macos-latest",
		},
		{
			name:   "whole reference keeps int type",
			value:  "$attempt",
			expect: 2,
		},
		{
			name:   "whole reference keeps bool type",
			value:  "$enabled",
			expect: true,
		},
		{
			name:   "whole braced index keeps element type",
			value:  "${parts[1]}",
			expect: 20,
		},
		{
			name:   "array element",
			value:  "${versions[0]}",
			expect: "3.8",
		},
		{
			name:   "array element property",
			value:  "${suites[1].name}",
			expect: "integration",
		},
		{
			name:   "missing braced reference becomes empty",
			value:  "${notThere}",
			expect: "",
		},
		{
			name:   "missing simple reference stays intact",
			value:  "$notThere",
			expect: "$notThere",
		},
		{
			name:   "no references",
			value:  "plain text",
			expect: "plain text",
		},
		{
			name:   "bare dollar stays intact",
			value:  "costs 5$",
			expect: "costs 5$",
		},
		{
			name:   "trailing dot belongs to text",
			value:  "runs on $runner.",
			expect: "runs on macos-latest.",
		},
		{
			name:   "integer addition",
			value:  "${attempt + 1}",
			expect: 3,
		},
		{
			name:   "integer subtraction",
			value:  "${total - 2}",
			expect: 8,
		},
		{
			name:   "multiplication",
			value:  "${attempt * 3}",
			expect: 6,
		},
		{
			name:   "division yields float",
			value:  "${total / 4}",
			expect: 2.5,
		},
		{
			name:   "parenthesized expression",
			value:  "${(attempt + 3) * 2}",
			expect: 10,
		},
		{
			name:   "expression over nested values",
			value:  "${counts.failed + counts.passed}",
			expect: 42,
		},
		{
			name:   "operator precedence",
			value:  "${10 + 5 * 2}",
			expect: 20,
		},
		{
			name:   "expression in text",
			value:  "attempt ${attempt + 1} of 3",
			expect: "attempt 3 of 3",
		},
		{
			name:   "modulo",
			value:  "${total % 3}",
			expect: 1,
		},
		{
			name:   "equality",
			value:  "${attempt == 2}",
			expect: true,
		},
		{
			name:   "inequality",
			value:  "${matrix.os != 'macos-latest'}",
			expect: true,
		},
		{
			name:   "comparison",
			value:  "${total > 5}",
			expect: true,
		},
		{
			name:   "negative literal",
			value:  "${-5 + total}",
			expect: 5,
		},
		{
			name:   "indexed arithmetic",
			value:  "${parts[0] + parts[1]}",
			expect: 30,
		},
	}

	scope := expandScope()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := expand(tc.value, scope)
			if !reflect.DeepEqual(result, tc.expect) {
				t.Errorf("expand(%q) = %v (%T), want %v (%T)", tc.value, result, result, tc.expect, tc.expect)
			}
		})
	}
}

func TestExpandStructFields(t *testing.T) {
	type execOutput struct {
		Stdout string
		Code   int
	}
	scope := map[string]interface{}{
		"exec": &execOutput{Stdout: "collected 42 items", Code: 0},
	}

	got, err := Expand("${exec.Stdout}", scope)
	if err != nil {
		t.Fatalf("Expand returned error: %v", err)
	}
	if got != "collected 42 items" {
		t.Errorf("expected stdout value, got %v", got)
	}

	// JSON-decoded references are lower-cased, field lookup folds case.
	got, _ = Expand("${exec.stdout}", scope)
	if got != "collected 42 items" {
		t.Errorf("expected case-folded stdout value, got %v", got)
	}
}

func TestExpandRecursive(t *testing.T) {
	type testCase struct {
		name   string
		value  interface{}
		from   map[string]interface{}
		expect interface{}
	}

	tests := []testCase{
		{
			name: "map values",
			value: map[string]interface{}{
				"command": "pytest --junitxml=${report}",
				"workdir": "$dir",
			},
			from: map[string]interface{}{
				"report": "python_junit.xml",
				"dir":    "/workspace",
			},
			expect: map[string]interface{}{
				"command": "pytest --junitxml=python_junit.xml",
				"workdir": "/workspace",
			},
		},
		{
			name: "slice values",
			value: []interface{}{
				"${greeting}, ${name}!",
				"$topic",
				"no references here",
			},
			from: map[string]interface{}{
				"greeting": "hello",
				"name":     "world",
				"topic":    "testing",
			},
			expect: []interface{}{
				"hello, world!",
				"testing",
				"no references here",
			},
		},
		{
			name: "map keys",
			value: map[string]interface{}{
				"${prefix}Key": "value",
				"plainKey":     "${value}",
			},
			from: map[string]interface{}{
				"prefix": "custom",
				"value":  "expanded",
			},
			expect: map[string]interface{}{
				"customKey": "value",
				"plainKey":  "expanded",
			},
		},
		{
			name: "nested structures",
			value: map[string]interface{}{
				"env": map[string]interface{}{
					"PYTHON": "${version}",
					"layers": []interface{}{"${base}", "${overlay}"},
				},
			},
			from: map[string]interface{}{
				"version": "3.9",
				"base":    "ubuntu",
				"overlay": "talib",
			},
			expect: map[string]interface{}{
				"env": map[string]interface{}{
					"PYTHON": "3.9",
					"layers": []interface{}{"ubuntu", "talib"},
				},
			},
		},
		{
			name: "expressions keep types",
			value: map[string]interface{}{
				"sum":     "${a + b}",
				"product": "${a * b}",
				"grouped": "${a * (b + c)}",
			},
			from: map[string]interface{}{
				"a": 5,
				"b": 3,
				"c": 2,
			},
			expect: map[string]interface{}{
				"sum":     8,
				"product": 15,
				"grouped": 25,
			},
		},
		{
			name: "expressions in slices",
			value: []interface{}{
				"${a + b}",
				"${a - b}",
				"${a / b}",
			},
			from: map[string]interface{}{
				"a": 10,
				"b": 2,
			},
			expect: []interface{}{
				12,
				8,
				5.0,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := Expand(tc.value, tc.from)
			if err != nil {
				t.Fatalf("Expand returned error: %v", err)
			}
			if !reflect.DeepEqual(result, tc.expect) {
				t.Errorf("Expand(%v) = %v, want %v", tc.value, result, tc.expect)
			}
		})
	}
}

func TestHelpers(t *testing.T) {
	t.Run("closingBrace", func(t *testing.T) {
		tests := []struct {
			value  string
			expect int
		}{
			{"${simple}", 8},
			{"${nested{inner}}", 15},
			{"${a + b}", 7},
			{"${unbalanced", -1},
			{"no reference", -1},
			{"${a} and ${b}", 3},
		}
		for _, tc := range tests {
			if got := closingBrace(tc.value); got != tc.expect {
				t.Errorf("closingBrace(%q) = %d, want %d", tc.value, got, tc.expect)
			}
		}
	})

	t.Run("isWholeBraced", func(t *testing.T) {
		tests := []struct {
			value  string
			expect bool
		}{
			{"${runner}", true},
			{"${a + b}", true},
			{"${a} tail }", false},
			{"${a}${b}", false},
			{"$runner", false},
		}
		for _, tc := range tests {
			if got := isWholeBraced(tc.value); got != tc.expect {
				t.Errorf("isWholeBraced(%q) = %v, want %v", tc.value, got, tc.expect)
			}
		}
	})

	t.Run("hasRef", func(t *testing.T) {
		tests := []struct {
			value  string
			expect bool
		}{
			{"uses $name", true},
			{"uses ${name}", true},
			{"plain", false},
			{"", false},
		}
		for _, tc := range tests {
			if got := hasRef(tc.value); got != tc.expect {
				t.Errorf("hasRef(%q) = %v, want %v", tc.value, got, tc.expect)
			}
		}
	})

	t.Run("isComposite", func(t *testing.T) {
		if !isComposite([]interface{}{1}) || !isComposite(map[string]interface{}{}) {
			t.Error("slices and maps are composite")
		}
		if isComposite("text") || isComposite(42) {
			t.Error("scalars are not composite")
		}
	})
}
