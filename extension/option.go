package extension

import "github.com/gantryci/gantry/model"

type Option func(*Types)

// WithImports overrides the imports used to resolve package-qualified type
// names during lookup.
func WithImports(imports model.Imports) Option {
	return func(t *Types) {
		t.imports = imports
	}
}
