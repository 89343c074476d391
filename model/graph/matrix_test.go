package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(v bool) *bool { return &v }

func TestStrategy_Combinations(t *testing.T) {
	testCases := []struct {
		description string
		strategy    *Strategy
		expect      []Combination
		expectErr   bool
	}{
		{
			description: "two axes product in sorted axis order",
			strategy: &Strategy{
				Matrix: &Matrix{
					Axes: map[string][]interface{}{
						"os":     {"ubuntu-latest", "macos-latest"},
						"python": {"3.9", "3.10"},
					},
				},
			},
			expect: []Combination{
				{"os": "ubuntu-latest", "python": "3.9"},
				{"os": "ubuntu-latest", "python": "3.10"},
				{"os": "macos-latest", "python": "3.9"},
				{"os": "macos-latest", "python": "3.10"},
			},
		},
		{
			description: "exclude removes matching combinations",
			strategy: &Strategy{
				Matrix: &Matrix{
					Axes: map[string][]interface{}{
						"os":     {"ubuntu-latest", "macos-latest"},
						"python": {"3.9", "3.10"},
					},
					Exclude: []map[string]interface{}{
						{"os": "macos-latest", "python": "3.9"},
					},
				},
			},
			expect: []Combination{
				{"os": "ubuntu-latest", "python": "3.9"},
				{"os": "ubuntu-latest", "python": "3.10"},
				{"os": "macos-latest", "python": "3.10"},
			},
		},
		{
			description: "include overlays extra values on matching legs",
			strategy: &Strategy{
				Matrix: &Matrix{
					Axes: map[string][]interface{}{
						"os": {"ubuntu-latest", "macos-latest"},
					},
					Include: []map[string]interface{}{
						{"os": "macos-latest", "setup": "brew install ta-lib"},
					},
				},
			},
			expect: []Combination{
				{"os": "ubuntu-latest"},
				{"os": "macos-latest", "setup": "brew install ta-lib"},
			},
		},
		{
			description: "include with no matching leg appends a new one",
			strategy: &Strategy{
				Matrix: &Matrix{
					Axes: map[string][]interface{}{
						"os": {"ubuntu-latest"},
					},
					Include: []map[string]interface{}{
						{"os": "windows-latest", "python": "3.11"},
					},
				},
			},
			expect: []Combination{
				{"os": "ubuntu-latest"},
				{"os": "windows-latest", "python": "3.11"},
			},
		},
		{
			description: "numeric and string axis values compare as text",
			strategy: &Strategy{
				Matrix: &Matrix{
					Axes: map[string][]interface{}{
						"python": {3.9, "3.10"},
					},
					Exclude: []map[string]interface{}{
						{"python": "3.9"},
					},
				},
			},
			expect: []Combination{
				{"python": "3.10"},
			},
		},
		{
			description: "exclude referencing unknown axis fails",
			strategy: &Strategy{
				Matrix: &Matrix{
					Axes: map[string][]interface{}{
						"os": {"ubuntu-latest"},
					},
					Exclude: []map[string]interface{}{
						{"arch": "arm64"},
					},
				},
			},
			expectErr: true,
		},
		{
			description: "nil strategy expands to nothing",
			strategy:    nil,
			expect:      nil,
		},
	}

	for _, testCase := range testCases {
		actual, err := testCase.strategy.Combinations()
		if testCase.expectErr {
			assert.Error(t, err, testCase.description)
			continue
		}
		assert.NoError(t, err, testCase.description)
		assert.EqualValues(t, testCase.expect, actual, testCase.description)
	}
}

func TestStrategy_IsFailFast(t *testing.T) {
	assert.True(t, (&Strategy{}).IsFailFast())
	assert.True(t, (*Strategy)(nil).IsFailFast())
	assert.False(t, (&Strategy{FailFast: boolPtr(false)}).IsFailFast())
}

func TestCombination_ID(t *testing.T) {
	combination := Combination{"python": "3.9", "os": "ubuntu-latest"}
	assert.Equal(t, "ubuntu-latest/3.9", combination.ID())
	assert.Equal(t, "", Combination{}.ID())
}

func TestJob_CloneKeepsStrategy(t *testing.T) {
	job := &Job{ID: "build", Name: "build"}
	job.WithStrategy(&Strategy{
		MaxParallel: 2,
		Matrix: &Matrix{
			Axes: map[string][]interface{}{"os": {"ubuntu-latest"}},
		},
	})
	job.WithGate(true)
	job.Retry = &Retry{Type: "fixed", MaxRetries: 2, Delay: "1s"}

	clone := job.Clone()
	assert.Equal(t, job.Strategy.MaxParallel, clone.Strategy.MaxParallel)
	assert.True(t, clone.IsGate())
	assert.Equal(t, job.Retry.MaxRetries, clone.Retry.MaxRetries)

	clone.Strategy.Matrix.Axes["os"] = append(clone.Strategy.Matrix.Axes["os"], "macos-latest")
	assert.Len(t, job.Strategy.Matrix.Axes["os"], 1)
}
