package logging

import (
	"bytes"
	"testing"

	clog "github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

// The helpers write through the package-level logger L; the test swaps L for
// a buffer-backed logger and restores it afterwards.
func TestHelpers_WriteToBuffer(t *testing.T) {
	var buf bytes.Buffer
	prev := L
	L = clog.New(&buf)
	L.SetLevel(clog.DebugLevel)
	defer func() { L = prev }()

	Debugf("scheduling %s", "build[linux/3.9]")
	Infof("run %d finished", 7)
	Warnf("retrying step")
	Errorf("step failed: %v", "exit 1")

	out := buf.String()
	assert.Contains(t, out, "scheduling build[linux/3.9]")
	assert.Contains(t, out, "run 7 finished")
	assert.Contains(t, out, "retrying step")
	assert.Contains(t, out, "step failed: exit 1")
}

func TestSetVerbose(t *testing.T) {
	prev := L
	defer func() { L = prev }()
	var buf bytes.Buffer
	L = clog.New(&buf)

	SetVerbose(false)
	Debugf("hidden")
	assert.NotContains(t, buf.String(), "hidden")

	SetVerbose(true)
	Debugf("visible")
	assert.Contains(t, buf.String(), "visible")
}
