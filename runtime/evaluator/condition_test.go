package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCondition(t *testing.T) {
	clean := Status{}
	failed := Status{Failed: true}
	cancelled := Status{Cancelled: true}
	scope := map[string]interface{}{
		"matrix": map[string]interface{}{"os": "ubuntu-latest"},
	}

	testCases := []struct {
		description string
		expr        string
		status      Status
		expect      bool
	}{
		{
			description: "absent condition runs on success",
			expr:        "",
			status:      clean,
			expect:      true,
		},
		{
			description: "absent condition skips after failure",
			expr:        "",
			status:      failed,
			expect:      false,
		},
		{
			description: "absent condition skips after cancel",
			expr:        "",
			status:      cancelled,
			expect:      false,
		},
		{
			description: "always runs after failure",
			expr:        "always()",
			status:      failed,
			expect:      true,
		},
		{
			description: "always runs after cancel",
			expr:        "always()",
			status:      cancelled,
			expect:      true,
		},
		{
			description: "success on clean status",
			expr:        "success()",
			status:      clean,
			expect:      true,
		},
		{
			description: "success is false after failure",
			expr:        "success()",
			status:      failed,
			expect:      false,
		},
		{
			description: "success is false after cancel",
			expr:        "success()",
			status:      cancelled,
			expect:      false,
		},
		{
			description: "failure only fires on failure",
			expr:        "failure()",
			status:      failed,
			expect:      true,
		},
		{
			description: "failure is false on clean status",
			expr:        "failure()",
			status:      clean,
			expect:      false,
		},
		{
			description: "cancelled fires on cancel",
			expr:        "cancelled()",
			status:      cancelled,
			expect:      true,
		},
		{
			description: "braced wrapper is unwrapped",
			expr:        "${always()}",
			status:      failed,
			expect:      true,
		},
		{
			description: "status functions combine",
			expr:        "success() || failure()",
			status:      failed,
			expect:      true,
		},
		{
			description: "status function with scope expression",
			expr:        "failure() && matrix.os == 'ubuntu-latest'",
			status:      failed,
			expect:      true,
		},
		{
			description: "plain expression implies success",
			expr:        "matrix.os == 'ubuntu-latest'",
			status:      failed,
			expect:      false,
		},
		{
			description: "plain expression on clean status",
			expr:        "matrix.os == 'ubuntu-latest'",
			status:      clean,
			expect:      true,
		},
		{
			description: "braced scope expression",
			expr:        "${matrix.os == 'macos-latest'}",
			status:      clean,
			expect:      false,
		},
	}

	for _, testCase := range testCases {
		actual := Condition(testCase.expr, testCase.status, scope)
		assert.Equal(t, testCase.expect, actual, testCase.description)
	}
}

func TestIsTruthy(t *testing.T) {
	testCases := []struct {
		value  interface{}
		expect bool
	}{
		{nil, false},
		{true, true},
		{false, false},
		{"", false},
		{"false", false},
		{"FALSE", false},
		{"0", false},
		{"yes", true},
		{0, false},
		{1, true},
		{0.0, false},
		{3.14, true},
		{[]string{}, true},
	}

	for _, testCase := range testCases {
		assert.Equal(t, testCase.expect, IsTruthy(testCase.value), "value: %v", testCase.value)
	}
}

func TestStatus_Success(t *testing.T) {
	assert.True(t, Status{}.Success())
	assert.False(t, Status{Failed: true}.Success())
	assert.False(t, Status{Cancelled: true}.Success())
}
