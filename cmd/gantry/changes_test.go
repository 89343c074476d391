package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryci/gantry/model"
)

const samplePatch = `diff --git a/quantkit/stocks/prices.py b/quantkit/stocks/prices.py
index 83db48f..bf269f4 100644
--- a/quantkit/stocks/prices.py
+++ b/quantkit/stocks/prices.py
@@ -1,3 +1,4 @@
+import functools
 import requests

 def chart():
diff --git a/docs/index.md b/docs/index.md
index 83db48f..bf269f4 100644
--- a/docs/index.md
+++ b/docs/index.md
@@ -1 +1,2 @@
 # docs
+more
`

func TestChangedFiles(t *testing.T) {
	files, err := changedFiles([]byte(samplePatch))
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/index.md", "quantkit/stocks/prices.py"}, files)
}

func TestPipelineAffected(t *testing.T) {
	testCases := []struct {
		description string
		patterns    []string
		changed     []string
		expect      bool
	}{
		{
			description: "no trigger paths always runs",
			patterns:    nil,
			changed:     []string{"README.md"},
			expect:      true,
		},
		{
			description: "direct glob match",
			patterns:    []string{"quantkit/*.py"},
			changed:     []string{"quantkit/client.py"},
			expect:      true,
		},
		{
			description: "recursive prefix match",
			patterns:    []string{"quantkit/**"},
			changed:     []string{"quantkit/stocks/prices.py"},
			expect:      true,
		},
		{
			description: "base name match at any depth",
			patterns:    []string{"**/Makefile"},
			changed:     []string{"tools/build/Makefile"},
			expect:      true,
		},
		{
			description: "docs only change misses source triggers",
			patterns:    []string{"quantkit/**", "setup.py"},
			changed:     []string{"docs/index.md"},
			expect:      false,
		},
	}

	for _, testCase := range testCases {
		pipeline := &model.Pipeline{Name: "ci"}
		if testCase.patterns != nil {
			pipeline.Triggers = &model.Triggers{Paths: testCase.patterns}
		}
		actual := pipelineAffected(pipeline, testCase.changed)
		assert.Equal(t, testCase.expect, actual, testCase.description)
	}
}
