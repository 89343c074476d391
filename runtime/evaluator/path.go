package evaluator

import (
	"reflect"
	"strconv"
	"strings"
)

// Resolve navigates a reference path such as "matrix.os",
// "needs.build.outputs" or "suites[0].failures" through nested maps,
// slices and structs. It returns nil when any hop cannot be resolved.
func Resolve(path string, scope map[string]interface{}) interface{} {
	if path == "" || scope == nil {
		return nil
	}
	steps, ok := parsePath(path)
	if !ok || len(steps) == 0 || steps[0].key == "" {
		return nil
	}
	current, found := scope[steps[0].key]
	if !found {
		return nil
	}
	for _, step := range steps[1:] {
		if step.indexed {
			current = elementAt(current, step.index)
		} else {
			current, _ = lookupKey(current, step.key)
		}
		if current == nil {
			return nil
		}
	}
	return current
}

type pathStep struct {
	key     string
	index   int
	indexed bool
}

// parsePath splits a path like "jobs.build[0]['python-version'].value"
// into navigation steps. Bracket segments hold either a numeric index
// or a quoted key.
func parsePath(path string) ([]pathStep, bool) {
	var steps []pathStep
	i := 0
	for i < len(path) {
		switch path[i] {
		case '.':
			if i == 0 || i+1 >= len(path) || path[i+1] == '.' {
				return nil, false
			}
			i++
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, false
			}
			end += i
			raw := strings.TrimSpace(path[i+1 : end])
			if len(raw) >= 2 && (raw[0] == '\'' || raw[0] == '"') && raw[len(raw)-1] == raw[0] {
				steps = append(steps, pathStep{key: raw[1 : len(raw)-1]})
			} else {
				index, err := strconv.Atoi(raw)
				if err != nil {
					return nil, false
				}
				steps = append(steps, pathStep{index: index, indexed: true})
			}
			i = end + 1
		default:
			j := i
			for j < len(path) && path[j] != '.' && path[j] != '[' {
				j++
			}
			steps = append(steps, pathStep{key: path[i:j]})
			i = j
		}
	}
	return steps, true
}

// lookupKey reads a named member from a map or struct. Map and struct
// lookups fall back to a case-insensitive scan so keys that went
// through a JSON round trip resolve however they were cased.
func lookupKey(obj interface{}, key string) (interface{}, bool) {
	if obj == nil {
		return nil, false
	}
	switch actual := obj.(type) {
	case map[string]interface{}:
		if value, ok := actual[key]; ok {
			return value, true
		}
		for k, value := range actual {
			if strings.EqualFold(k, key) {
				return value, true
			}
		}
		return nil, false
	case map[string]string:
		if value, ok := actual[key]; ok {
			return value, true
		}
		for k, value := range actual {
			if strings.EqualFold(k, key) {
				return value, true
			}
		}
		return nil, false
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		value := rv.MapIndex(reflect.ValueOf(key))
		if !value.IsValid() || !value.CanInterface() {
			return nil, false
		}
		return value.Interface(), true
	case reflect.Struct:
		field := rv.FieldByName(key)
		if !field.IsValid() {
			rt := rv.Type()
			for i := 0; i < rt.NumField(); i++ {
				if strings.EqualFold(rt.Field(i).Name, key) {
					field = rv.Field(i)
					break
				}
			}
		}
		if !field.IsValid() || !field.CanInterface() {
			return nil, false
		}
		return field.Interface(), true
	}
	return nil, false
}

// elementAt returns the index-th element of a slice or array, nil when
// out of range.
func elementAt(obj interface{}, index int) interface{} {
	if obj == nil || index < 0 {
		return nil
	}
	switch actual := obj.(type) {
	case []interface{}:
		if index < len(actual) {
			return actual[index]
		}
		return nil
	case []string:
		if index < len(actual) {
			return actual[index]
		}
		return nil
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	if index >= rv.Len() {
		return nil
	}
	item := rv.Index(index)
	if !item.CanInterface() {
		return nil
	}
	return item.Interface()
}
