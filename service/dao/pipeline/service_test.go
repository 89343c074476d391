package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/afs"

	"github.com/gantryci/gantry/model/graph"
)

func TestService_DecodeYAML(t *testing.T) {
	yamlText := `
name: ci
version: "1.0"
defaults:
  runs-on: ubuntu-latest
env:
  QUANTKIT_TEST_SLEEP: 0.2
jobs:
  lint:
    run:
      - pip install flake8
      - flake8 quantkit --count --max-line-length=127
  build:
    needs: [lint]
    strategy:
      fail-fast: false
      max-parallel: 4
      matrix:
        os: [ubuntu-latest, macos-latest]
        python: ["3.8", "3.9"]
        exclude:
          - os: macos-latest
            python: "3.8"
        include:
          - os: ubuntu-latest
            python: "3.9"
            coverage: true
    run: pytest quantkit/tests --junitxml=results.xml
  report:
    needs: [build]
    if: always()
    action: report:parse
    with:
      location: results.xml
`
	svc := New()
	p, err := svc.DecodeYAML([]byte(yamlText))
	if err != nil {
		t.Fatalf("failed to decode pipeline: %v", err)
	}

	assert.EqualValues(t, "ci", p.Name)
	assert.EqualValues(t, "1.0", p.Version)
	assert.EqualValues(t, "ubuntu-latest", p.Defaults.RunsOn)
	assert.EqualValues(t, 3, len(p.Jobs.Steps))

	lint := p.Jobs.Steps[0]
	assert.EqualValues(t, "ci/lint", lint.ID)
	assert.EqualValues(t, "system/exec", lint.Action.Service)
	assert.EqualValues(t, "execute", lint.Action.Method)
	input, ok := lint.Action.Input.(map[string]interface{})
	if assert.True(t, ok) {
		assert.EqualValues(t, []string{"pip install flake8", "flake8 quantkit --count --max-line-length=127"}, input["commands"])
	}
	assert.EqualValues(t, "ubuntu-latest", lint.RunsOn)

	build := p.Jobs.Steps[1]
	assert.EqualValues(t, []string{"lint"}, build.Needs)
	assert.False(t, build.Strategy.IsFailFast())
	assert.EqualValues(t, 4, build.Strategy.MaxParallel)

	combinations, err := build.Strategy.Combinations()
	assert.NoError(t, err)
	// 2x2 product minus one exclusion; the include overlays an existing leg
	assert.EqualValues(t, 3, len(combinations))

	report := p.Jobs.Steps[2]
	assert.EqualValues(t, "always()", report.If)
	assert.EqualValues(t, "report", report.Action.Service)
	assert.EqualValues(t, "parse", report.Action.Method)
}

func TestService_DecodeYAML_runAndActionConflict(t *testing.T) {
	yamlText := `
name: broken
jobs:
  test:
    action: printer:print
    run: echo hello
`
	svc := New()
	_, err := svc.DecodeYAML([]byte(yamlText))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "both run and action")
}

func TestService_DecodeYAML_typedEnv(t *testing.T) {
	yamlText := `
name: typed
env:
  token[string](secret/ci-token): ""
jobs:
  deploy:
    run: make deploy
`
	svc := New()
	p, err := svc.DecodeYAML([]byte(yamlText))
	if err != nil {
		t.Fatalf("failed to decode pipeline: %v", err)
	}
	if !assert.EqualValues(t, 1, len(p.Env)) {
		return
	}
	param := p.Env[0]
	assert.EqualValues(t, "token", param.Name)
	assert.EqualValues(t, "string", param.DataType)
	assert.EqualValues(t, "secret", param.Location.Kind)
	assert.EqualValues(t, "ci-token", param.Location.In)
}

func TestService_DecodeYAML_nestedSteps(t *testing.T) {
	yamlText := `
name: nested
jobs:
  release:
    gate: true
    steps:
      package:
        run: python setup.py sdist
      publish:
        needs: [package]
        run: twine upload dist/*
`
	svc := New()
	p, err := svc.DecodeYAML([]byte(yamlText))
	if err != nil {
		t.Fatalf("failed to decode pipeline: %v", err)
	}
	release := p.Jobs.Steps[0]
	assert.True(t, release.IsGate())
	assert.EqualValues(t, 2, len(release.Steps))
	assert.EqualValues(t, "nested/release/package", release.Steps[0].ID)
	assert.EqualValues(t, "nested/release/publish", release.Steps[1].ID)
}

func TestService_Load_jsonc(t *testing.T) {
	ctx := context.Background()
	fs := afs.New()
	location := "mem://localhost/pipelines/smoke.jsonc"
	definition := `{
  // smoke test pipeline
  "name": "smoke",
  "jobs": {
    "ping": {"run": "true"}
  }
}`
	if err := fs.Upload(ctx, location, 0644, strings.NewReader(definition)); err != nil {
		t.Fatalf("failed to upload definition: %v", err)
	}
	svc := New()
	p, err := svc.Load(ctx, location)
	if err != nil {
		t.Fatalf("failed to load pipeline: %v", err)
	}
	assert.EqualValues(t, "smoke", p.Name)
	assert.EqualValues(t, 1, len(p.Jobs.Steps))
	assert.EqualValues(t, "system/exec", p.Jobs.Steps[0].Action.Service)
}

func TestService_UpsertAndRefresh(t *testing.T) {
	svc := New()
	p, err := svc.DecodeYAML([]byte("name: cached\njobs:\n  noop:\n    action: nop\n"))
	if err != nil {
		t.Fatalf("failed to decode pipeline: %v", err)
	}
	svc.Upsert("mem://localhost/cached.yaml", p)
	cached := svc.cache.lookup(context.Background(), svc.metaService, "mem://localhost/cached.yaml")
	if assert.NotNil(t, cached) {
		assert.EqualValues(t, "cached", cached.Name)
	}
	svc.Refresh("mem://localhost/cached.yaml")
	assert.Nil(t, svc.cache.lookup(context.Background(), svc.metaService, "mem://localhost/cached.yaml"))
}

func TestParseRetry(t *testing.T) {
	yamlText := `
name: flaky
jobs:
  test:
    retry:
      type: exponential
      maxRetries: 3
      delay: 2s
      multiplier: 2.0
      maxDelay: 30s
    run: pytest
`
	svc := New()
	p, err := svc.DecodeYAML([]byte(yamlText))
	if err != nil {
		t.Fatalf("failed to decode pipeline: %v", err)
	}
	retry := p.Jobs.Steps[0].Retry
	assert.EqualValues(t, &graph.Retry{
		Type:       "exponential",
		MaxRetries: 3,
		Delay:      "2s",
		Multiplier: 2.0,
		MaxDelay:   "30s",
	}, retry)
}
