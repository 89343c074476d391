// Package expander interpolates $var and ${expr} references in the
// values a step receives, walking maps and slices recursively.
package expander

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/gantryci/gantry/runtime/evaluator"
	"github.com/viant/structology/visitor"
)

var (
	identRef = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_.]*)`)
	wholeRef = regexp.MustCompile(`^\$[a-zA-Z_][a-zA-Z0-9_.\[\]'"]*$`)
)

// Expand walks maps, slices and strings, replacing every variable
// reference with its value from scope. A string that consists of a
// single reference keeps the referenced type, so "${attempt}" can stay
// an int; references embedded in text interpolate as strings. Map keys
// expand as well, entries whose key does not expand to a string are
// dropped.
func Expand(value interface{}, scope map[string]interface{}) (interface{}, error) {
	var err error
	switch actual := value.(type) {
	case map[string]interface{}:
		expanded := make(map[string]interface{})
		visit := visitor.MapVisitorOf[string, interface{}](actual)
		err = visit(func(key string, element interface{}) (bool, error) {
			expandedKey := key
			if hasRef(key) {
				resolved := expand(key, scope)
				text, ok := resolved.(string)
				if !ok {
					return true, nil
				}
				expandedKey = text
			}
			if text, ok := element.(string); ok && hasRef(text) {
				element = expand(text, scope)
			} else {
				element, err = Expand(element, scope)
				if err != nil {
					return false, err
				}
			}
			expanded[expandedKey] = element
			return true, nil
		})
		return expanded, err

	case []interface{}:
		expanded := make([]interface{}, len(actual))
		for i, item := range actual {
			if text, ok := item.(string); ok && hasRef(text) {
				item = expand(text, scope)
			} else {
				item, err = Expand(item, scope)
				if err != nil {
					return nil, err
				}
			}
			expanded[i] = item
		}
		return expanded, nil

	case string:
		if hasRef(actual) {
			return expand(actual, scope), nil
		}
		return actual, nil

	default:
		return actual, nil
	}
}

// expand replaces the references in a single string. When the whole
// string is one reference the resolved value keeps its type, otherwise
// every reference interpolates into the surrounding text.
func expand(value string, scope map[string]interface{}) interface{} {
	if value == "" {
		return value
	}
	if isWholeBraced(value) {
		result := evaluator.Evaluate(value[2:len(value)-1], scope)
		if result == nil {
			return ""
		}
		return result
	}
	if wholeRef.MatchString(value) {
		if resolved := evaluator.Resolve(value[1:], scope); resolved != nil {
			return resolved
		}
		// Unresolved $var tokens stay intact, same as in text below.
		return value
	}
	return interpolate(value, scope)
}

func interpolate(value string, scope map[string]interface{}) string {
	result := value
	from := 0
	for {
		offset := strings.Index(result[from:], "${")
		if offset == -1 {
			break
		}
		start := from + offset
		end := closingBrace(result[start:])
		if end == -1 {
			break
		}
		end += start
		replacement := evaluator.Stringify(evaluator.Evaluate(result[start+2:end], scope))
		result = result[:start] + replacement + result[end+1:]
		from = start + len(replacement)
	}
	if !strings.Contains(result, "$") {
		return result
	}
	return identRef.ReplaceAllStringFunc(result, func(match string) string {
		// A dot straight before punctuation belongs to the text, not the path.
		ref := strings.TrimRight(match, ".")
		suffix := match[len(ref):]
		resolved := evaluator.Resolve(ref[1:], scope)
		if resolved == nil || isComposite(resolved) {
			return match
		}
		return evaluator.Stringify(resolved) + suffix
	})
}

// isWholeBraced reports whether the string is a single ${...} token,
// i.e. the brace opened at position 0 closes at the very end.
func isWholeBraced(value string) bool {
	if !strings.HasPrefix(value, "${") || !strings.HasSuffix(value, "}") {
		return false
	}
	return closingBrace(value) == len(value)-1
}

// closingBrace returns the position of the brace closing a leading
// "${", -1 when unbalanced.
func closingBrace(value string) int {
	if !strings.HasPrefix(value, "${") {
		return -1
	}
	depth := 0
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isComposite(value interface{}) bool {
	switch reflect.ValueOf(value).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	}
	return false
}

// hasRef checks if a string contains any variable reference.
func hasRef(value string) bool {
	return strings.Contains(value, "$")
}
