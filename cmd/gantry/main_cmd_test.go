package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smokePipeline = `
name: smoke
jobs:
  greet:
    action: printer:print
    with:
      message: hello ${branch}
  done:
    needs: [greet]
    action: nop:nop
`

const brokenPipeline = `
name: broken
jobs:
  build:
    needs: [missing]
    action: nop:nop
`

// execCommand runs a fresh root command with isolated engine backends and
// returns its combined output.
func execCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("GANTRY_HISTORY_DSN", "")
	t.Setenv("GANTRY_ARTIFACTS_ROOT", "mem://localhost/gantry-cli/artifacts")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writePipeline(t *testing.T, definition string) string {
	t.Helper()
	location := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(location, []byte(definition), 0644))
	return location
}

func TestRunCommand(t *testing.T) {
	location := writePipeline(t, smokePipeline)
	output, err := execCommand(t, "run", location, "--set", "branch=main", "--timeout", "10s")
	require.NoError(t, err)
	assert.Contains(t, output, "smoke/greet")
	assert.Contains(t, output, "smoke/done")
	assert.Contains(t, output, "completed")
}

func TestRunCommand_invalidSet(t *testing.T) {
	location := writePipeline(t, smokePipeline)
	_, err := execCommand(t, "run", location, "--set", "branch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected name=value")
}

func TestRunCommand_skippedByChangeSet(t *testing.T) {
	location := writePipeline(t, `
name: gated
on:
  paths:
    - quantkit/**
jobs:
  build:
    action: nop:nop
`)
	patch := filepath.Join(t.TempDir(), "change.patch")
	require.NoError(t, os.WriteFile(patch, []byte(samplePatch), 0644))

	output, err := execCommand(t, "run", location, "--changes", patch, "--timeout", "10s")
	require.NoError(t, err)
	assert.Contains(t, output, "not affected by change set")
}

func TestValidateCommand(t *testing.T) {
	location := writePipeline(t, smokePipeline)
	output, err := execCommand(t, "validate", location)
	require.NoError(t, err)
	assert.Contains(t, output, "pipeline smoke is valid")
}

func TestValidateCommand_broken(t *testing.T) {
	location := writePipeline(t, brokenPipeline)
	output, err := execCommand(t, "validate", location)
	require.Error(t, err)
	assert.Contains(t, output, "needs unknown job missing")
}

func TestConfigInitCommand(t *testing.T) {
	target := filepath.Join(t.TempDir(), "gantry.yaml")
	output, err := execCommand(t, "config", "init", "--path", target)
	require.NoError(t, err)
	assert.Contains(t, output, target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "workers: 5")
	assert.Contains(t, string(data), "interval: 20ms")
}

func TestHistoryCommand_disabled(t *testing.T) {
	_, err := execCommand(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history is disabled")
}

func TestEngineConfig(t *testing.T) {
	var c cliConfig
	c.Workers = 3
	c.Interval = "50ms"
	c.History.DSN = "file:cli?mode=memory&cache=shared"
	c.Artifacts.Root = "mem://localhost/store"

	engine, err := engineConfig(c)
	require.NoError(t, err)
	assert.Equal(t, 3, engine.Processor.WorkerCount)
	assert.Equal(t, 50*time.Millisecond, engine.Scheduler.PollingInterval)
	assert.Equal(t, "file:cli?mode=memory&cache=shared", engine.History.DSN)
	assert.Equal(t, "mem://localhost/store", engine.Artifacts.BaseURL)
}

func TestEngineConfig_invalidInterval(t *testing.T) {
	var c cliConfig
	c.Interval = "soon"
	_, err := engineConfig(c)
	assert.Error(t, err)
}

func TestParseSets(t *testing.T) {
	state, err := parseSets([]string{"branch=main", "python=3.11"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"branch": "main", "python": "3.11"}, state)
}

func TestResolveLocation(t *testing.T) {
	resolved, err := resolveLocation("mem://localhost/pipelines/ci.yaml")
	require.NoError(t, err)
	assert.Equal(t, "mem://localhost/pipelines/ci.yaml", resolved)

	resolved, err = resolveLocation("testdata/ci.yaml")
	require.NoError(t, err)
	assert.Contains(t, resolved, "file://")
	assert.Contains(t, resolved, "testdata/ci.yaml")
}
