// Package criteria holds shared List-parameter matchers for the DAO
// implementations.
package criteria

import (
	"github.com/gantryci/gantry/service/dao"
)

// FilterByState reports whether an entity in the given state passes the
// supplied parameters. A single "State" parameter may carry one state or a
// set of acceptable states; anything else passes everything.
func FilterByState(state string, parameters []*dao.Parameter) bool {
	switch len(parameters) {
	case 0:
		return true
	case 1:
		if parameters[0].Name == "State" {
			switch actual := parameters[0].Value.(type) {
			case string:
				return state == actual
			case []string:
				for _, s := range actual {
					if state == s {
						return true
					}
				}
				return false
			}
		}
	}
	return true
}
