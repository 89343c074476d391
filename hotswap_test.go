package gantry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gantryci/gantry"
)

// TestRuntimeHotSwap verifies the Runtime.UpsertDefinition and
// Runtime.RefreshPipeline helpers that support hot-swapping pipeline
// definitions at runtime.
func TestRuntimeHotSwap(t *testing.T) {
	type testCase struct {
		description string
		location    string
		data        []byte
		expected    string // expected pipeline name after the operation
		refresh     bool   // whether to invoke RefreshPipeline instead of Upsert
	}

	const location = "test.yaml"

	yamlV1 := []byte(`
name: test1
jobs:
  noop:
    action: nop:nop
`)

	yamlV2 := []byte(`
name: test2
jobs:
  noop:
    action: nop:nop
`)

	cases := []testCase{
		{
			description: "initial upsert", location: location, data: yamlV1, expected: "test1",
		},
		{
			description: "override with new definition", location: location, data: yamlV2, expected: "test2",
		},
	}

	srv := gantry.New()
	rt := srv.Runtime()
	ctx := context.Background()

	for _, tc := range cases {
		if tc.refresh {
			assert.Nil(t, rt.RefreshPipeline(tc.location), tc.description)
		} else {
			assert.Nil(t, rt.UpsertDefinition(tc.location, tc.data), tc.description)
		}
		pipeline, err := rt.LoadPipeline(ctx, tc.location)
		if !assert.Nil(t, err, tc.description) {
			continue
		}
		assert.EqualValues(t, tc.expected, pipeline.Name, tc.description)
	}

	// Upsert with nil data falls back to a cache refresh; the next load goes
	// back to the meta service, which has no such file.
	assert.Nil(t, rt.UpsertDefinition(location, nil))
	_, err := rt.LoadPipeline(ctx, location)
	assert.NotNil(t, err)
}
