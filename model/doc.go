// Package model contains the in-memory representation of pipeline
// definitions and supporting types used by the gantry engine.
//
// A pipeline is typically loaded from a YAML or JSONC document into the
// structures defined in the `graph`, `state` and `types` sub-packages.  The
// root model package simply aggregates those building blocks so that they can
// be referenced from other parts of the code base with a single import.
package model
