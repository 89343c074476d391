// Package policy provides optional declarative rules applied on top of a
// running engine, for example requiring human approval before selected
// actions execute or blocking them outright.
package policy
