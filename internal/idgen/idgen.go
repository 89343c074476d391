package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a new globally unique identifier as string. It is implemented
// as a thin wrapper so tests can stub it.

var NewFunc = func() string { return uuid.New().String() }

func New() string { return NewFunc() }

// Short returns the first segment of a fresh identifier. Run identifiers use
// it to keep log lines and artifact paths readable.
func Short() string {
	id := NewFunc()
	if idx := strings.IndexByte(id, '-'); idx > 0 {
		return id[:idx]
	}
	return id
}
