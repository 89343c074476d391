package graph

import (
	"fmt"
	"sort"
	"strings"
)

type (
	// Strategy expands one job definition into a leg per matrix combination.
	Strategy struct {
		Matrix      *Matrix `json:"matrix,omitempty" yaml:"matrix,omitempty"`
		FailFast    *bool   `json:"failFast,omitempty" yaml:"failFast,omitempty"`
		MaxParallel int     `json:"maxParallel,omitempty" yaml:"maxParallel,omitempty"`
	}

	// Matrix holds the axes with their candidate values plus include/exclude
	// adjustments.
	Matrix struct {
		Axes    map[string][]interface{} `json:"axes,omitempty" yaml:"axes,omitempty"`
		Include []map[string]interface{} `json:"include,omitempty" yaml:"include,omitempty"`
		Exclude []map[string]interface{} `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	}

	// Combination is one expanded assignment of axis values, e.g.
	// {os: ubuntu-latest, python: "3.9"}.
	Combination map[string]interface{}
)

// IsFailFast reports whether a failing leg cancels the group's pending legs;
// on by default.
func (s *Strategy) IsFailFast() bool {
	if s == nil || s.FailFast == nil {
		return true
	}
	return *s.FailFast
}

// Clone deep-copies the strategy.
func (s *Strategy) Clone() *Strategy {
	if s == nil {
		return nil
	}
	clone := &Strategy{MaxParallel: s.MaxParallel}
	if s.FailFast != nil {
		failFast := *s.FailFast
		clone.FailFast = &failFast
	}
	if s.Matrix != nil {
		matrix := &Matrix{}
		if s.Matrix.Axes != nil {
			matrix.Axes = make(map[string][]interface{}, len(s.Matrix.Axes))
			for name, values := range s.Matrix.Axes {
				matrix.Axes[name] = append([]interface{}{}, values...)
			}
		}
		for _, entry := range s.Matrix.Include {
			matrix.Include = append(matrix.Include, cloneEntry(entry))
		}
		for _, entry := range s.Matrix.Exclude {
			matrix.Exclude = append(matrix.Exclude, cloneEntry(entry))
		}
		clone.Matrix = matrix
	}
	return clone
}

// Validate checks exclude entries against declared axes and parallelism
// bounds.
func (s *Strategy) Validate() error {
	if s == nil {
		return nil
	}
	if s.MaxParallel < 0 {
		return fmt.Errorf("maxParallel must be >= 0, had: %d", s.MaxParallel)
	}
	if s.Matrix == nil {
		return nil
	}
	for i, entry := range s.Matrix.Exclude {
		if len(entry) == 0 {
			return fmt.Errorf("exclude[%d] is empty", i)
		}
		for key := range entry {
			if _, ok := s.Matrix.Axes[key]; !ok {
				return fmt.Errorf("exclude[%d] references unknown axis %q", i, key)
			}
		}
	}
	return nil
}

// Combinations expands the matrix into a deterministic list of legs: the
// cartesian product of axes in sorted-axis order, minus excluded entries,
// adjusted by includes. An include whose axis keys all match an existing
// combination overlays its extra values onto it; otherwise it appends a new
// combination.
func (s *Strategy) Combinations() ([]Combination, error) {
	if s == nil || s.Matrix == nil {
		return nil, nil
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	matrix := s.Matrix

	axes := make([]string, 0, len(matrix.Axes))
	for name := range matrix.Axes {
		axes = append(axes, name)
	}
	sort.Strings(axes)

	combinations := []Combination{{}}
	for _, axis := range axes {
		values := matrix.Axes[axis]
		next := make([]Combination, 0, len(combinations)*len(values))
		for _, base := range combinations {
			for _, value := range values {
				combination := base.clone()
				combination[axis] = value
				next = append(next, combination)
			}
		}
		combinations = next
	}
	if len(axes) == 0 {
		combinations = nil
	}

	if len(matrix.Exclude) > 0 {
		kept := combinations[:0]
		for _, combination := range combinations {
			if !matchesAny(combination, matrix.Exclude) {
				kept = append(kept, combination)
			}
		}
		combinations = kept
	}

	for _, include := range matrix.Include {
		matched := false
		for _, combination := range combinations {
			if overlaps(combination, include, axes) {
				matched = true
				for key, value := range include {
					if _, isAxis := matrix.Axes[key]; !isAxis {
						combination[key] = value
					}
				}
			}
		}
		if !matched {
			combinations = append(combinations, cloneEntry(include))
		}
	}
	return combinations, nil
}

// ID renders a stable leg suffix such as "ubuntu-latest/3.9", joining values
// in sorted key order.
func (c Combination) ID() string {
	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, scalarText(c[key]))
	}
	return strings.Join(parts, "/")
}

func (c Combination) clone() Combination {
	clone := make(Combination, len(c)+1)
	for key, value := range c {
		clone[key] = value
	}
	return clone
}

// matchesAny reports whether every key/value pair of some entry equals the
// combination's values.
func matchesAny(combination Combination, entries []map[string]interface{}) bool {
	for _, entry := range entries {
		matched := len(entry) > 0
		for key, value := range entry {
			actual, ok := combination[key]
			if !ok || !valuesEqual(actual, value) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// overlaps reports whether the include entry agrees with the combination on
// every axis key it sets, with at least one axis key shared.
func overlaps(combination Combination, include map[string]interface{}, axes []string) bool {
	shared := 0
	for _, axis := range axes {
		value, ok := include[axis]
		if !ok {
			continue
		}
		shared++
		actual, ok := combination[axis]
		if !ok || !valuesEqual(actual, value) {
			return false
		}
	}
	return shared > 0
}

func valuesEqual(a, b interface{}) bool {
	if a == b {
		return true
	}
	return scalarText(a) == scalarText(b)
}

func scalarText(value interface{}) string {
	switch actual := value.(type) {
	case string:
		return actual
	default:
		return fmt.Sprintf("%v", actual)
	}
}

func cloneEntry(entry map[string]interface{}) map[string]interface{} {
	clone := make(map[string]interface{}, len(entry))
	for key, value := range entry {
		clone[key] = value
	}
	return clone
}
