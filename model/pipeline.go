package model

import (
	"fmt"
	"time"

	"github.com/gantryci/gantry/model/graph"
	"github.com/gantryci/gantry/model/state"
)

// Pipeline is a CI pipeline definition.
type Pipeline struct {

	// Source provides information about the origin of the definition
	Source *Source `json:"source,omitempty" yaml:"source,omitempty"`

	// Name is the unique identifier for the pipeline
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description of the pipeline
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	TypeName string `json:"typeName,omitempty" yaml:"typeName,omitempty"`

	// Imports represents a collection of package imports for typed state
	Imports Imports

	// Version specifies the pipeline version
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Env parameters are applied to the session when a run starts
	Env state.Parameters `json:"env,omitempty" yaml:"env,omitempty"`

	// Jobs is the root of the execution graph; its Steps are the
	// pipeline's jobs
	Jobs *graph.Job `json:"jobs,omitempty" yaml:"jobs,omitempty"`

	// Dependencies define reusable jobs referenced by ID
	Dependencies map[string]*graph.Job `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// Post parameters are applied when a run finishes
	Post state.Parameters `json:"post,omitempty" yaml:"post,omitempty"`

	// Defaults apply to jobs that do not override them
	Defaults *Defaults `json:"defaults,omitempty" yaml:"defaults,omitempty"`

	// Triggers narrow when the pipeline should run at all
	Triggers *Triggers `json:"on,omitempty" yaml:"on,omitempty"`

	// Gate requires manual approval before every job when set
	Gate *bool `json:"gate,omitempty" yaml:"gate,omitempty"`
}

// Defaults hold pipeline-wide job settings.
type Defaults struct {
	RunsOn string            `json:"runsOn,omitempty" yaml:"runsOn,omitempty"`
	Env    map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Triggers describe when a pipeline applies; Paths are glob patterns matched
// against changed files when a run is started with a change set.
type Triggers struct {
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`
}

type Source struct {
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Validate performs a best-effort structural validation of the pipeline. The
// returned slice is empty when the definition is sound; otherwise it contains
// human-readable error descriptions. It verifies static properties only and
// never evaluates conditions.
func (p *Pipeline) Validate() []error {
	var issues []error

	if p.Jobs == nil {
		issues = append(issues, fmt.Errorf("pipeline has no jobs"))
		return issues
	}

	// collect all job IDs
	seen := map[string]bool{}

	var walk func(j *graph.Job)
	walk = func(j *graph.Job) {
		if j == nil {
			return
		}
		if seen[j.ID] {
			issues = append(issues, fmt.Errorf("duplicate job id %s", j.ID))
		}
		seen[j.ID] = true
		seen[j.Name] = true

		for _, need := range j.Needs {
			if need == j.ID {
				issues = append(issues, fmt.Errorf("job %s needs itself", j.ID))
			}
		}
		if j.Action != nil && len(j.Steps) > 0 {
			issues = append(issues, fmt.Errorf("job %s declares both an action and steps", j.ID))
		}
		for _, step := range j.Steps {
			walk(step)
		}
	}

	walk(p.Jobs)
	// Include named dependencies declared at the root level so that jobs in
	// the main graph can reference them via `needs`.
	for _, dep := range p.Dependencies {
		walk(dep)
	}

	// After collecting all jobs, verify each need / goto target exists.
	var check func(*graph.Job)
	check = func(j *graph.Job) {
		if j == nil {
			return
		}
		for _, need := range j.Needs {
			if !seen[need] {
				issues = append(issues, fmt.Errorf("job %s needs unknown job %s", j.ID, need))
			}
		}
		for _, g := range j.Goto {
			if g != nil && g.Job != "" && !seen[g.Job] {
				issues = append(issues, fmt.Errorf("job %s goto refers to unknown job %s", j.ID, g.Job))
			}
		}
		for _, step := range j.Steps {
			check(step)
		}
	}

	check(p.Jobs)
	for _, dep := range p.Dependencies {
		check(dep)
	}

	// Detect dependency cycles and unreachable jobs over canonical IDs.
	// Adjacency covers needs edges plus structural containment so that a
	// declared-but-never-needed dependency job is flagged.
	all := p.AllJobs()
	canonical := func(ref string) string {
		if j, ok := all[ref]; ok {
			return j.ID
		}
		return ref
	}
	edges := map[string][]string{}
	for id, j := range all {
		if id != j.ID {
			continue // skip name aliases
		}
		for _, need := range j.Needs {
			edges[id] = append(edges[id], canonical(need))
		}
		for _, step := range j.Steps {
			edges[id] = append(edges[id], step.ID)
		}
	}

	const (
		grey  = 1
		black = 2
	)
	colour := map[string]int{}

	var dfs func(string) bool // reports whether a cycle was found
	dfs = func(n string) bool {
		switch colour[n] {
		case grey:
			return true // back-edge
		case black:
			return false
		}
		colour[n] = grey
		for _, next := range edges[n] {
			if dfs(next) {
				return true
			}
		}
		colour[n] = black
		return false
	}

	if dfs(p.Jobs.ID) {
		issues = append(issues, fmt.Errorf("pipeline contains cyclic needs"))
	} else {
		for id, j := range all {
			if id != j.ID {
				continue
			}
			if colour[id] == 0 {
				issues = append(issues, fmt.Errorf("job %s is unreachable from the pipeline root", id))
			}
		}
	}

	// Strategy and timeout sanity per job.
	var walkSettings func(*graph.Job)
	walkSettings = func(j *graph.Job) {
		if j == nil {
			return
		}
		if err := j.Strategy.Validate(); err != nil {
			issues = append(issues, fmt.Errorf("job %s strategy: %w", j.ID, err))
		}
		if j.Timeout != "" {
			if _, err := time.ParseDuration(j.Timeout); err != nil {
				issues = append(issues, fmt.Errorf("job %s has invalid timeout: %v", j.ID, err))
			}
		}
		if j.Retry != nil && j.Retry.Delay != "" {
			if _, err := time.ParseDuration(j.Retry.Delay); err != nil {
				issues = append(issues, fmt.Errorf("job %s has invalid retry delay: %v", j.ID, err))
			}
		}
		for _, step := range j.Steps {
			walkSettings(step)
		}
	}
	walkSettings(p.Jobs)

	return issues
}

// NewPipeline creates a pipeline with the given name.
func NewPipeline(name string) *Pipeline {
	return &Pipeline{
		Name:         name,
		Dependencies: make(map[string]*graph.Job),
	}
}

// WithDescription sets the description of the pipeline.
func (p *Pipeline) WithDescription(description string) *Pipeline {
	p.Description = description
	return p
}

// WithVersion sets the version of the pipeline.
func (p *Pipeline) WithVersion(version string) *Pipeline {
	p.Version = version
	return p
}

// WithEnv adds a run-start parameter to the pipeline.
func (p *Pipeline) WithEnv(name string, value interface{}) *Pipeline {
	if p.Env == nil {
		p.Env = make(state.Parameters, 0)
	}
	p.Env.Add(name, value)
	return p
}

// WithPost adds a run-finish parameter to the pipeline.
func (p *Pipeline) WithPost(name string, value interface{}) *Pipeline {
	if p.Post == nil {
		p.Post = make(state.Parameters, 0)
	}
	p.Post.Add(name, value)
	return p
}

// WithDefaults sets pipeline-wide job defaults.
func (p *Pipeline) WithDefaults(defaults *Defaults) *Pipeline {
	p.Defaults = defaults
	return p
}

// WithJobs sets the root of the job graph.
func (p *Pipeline) WithJobs(root *graph.Job) *Pipeline {
	p.Jobs = root
	return p
}

// AddDependency registers a reusable job.
func (p *Pipeline) AddDependency(job *graph.Job) *Pipeline {
	if p.Dependencies == nil {
		p.Dependencies = make(map[string]*graph.Job)
	}
	p.Dependencies[job.ID] = job
	return p
}

// NewJob creates a job with the given name and adds it to the pipeline root.
func (p *Pipeline) NewJob(name string) *graph.Job {
	if p.Jobs == nil {
		p.Jobs = &graph.Job{
			ID:    p.Name,
			Steps: make([]*graph.Job, 0),
			Async: true,
		}
	}
	job := &graph.Job{
		ID:        p.Jobs.ID + "/" + name,
		Name:      name,
		Namespace: name,
	}
	p.Jobs.Steps = append(p.Jobs.Steps, job)
	return job
}

// Import represents a package import for typed session state.
type Import struct {
	Package string `json:"package,omitempty" yaml:"package,omitempty"`
	PkgPath string `json:"pkgPath,omitempty" yaml:"pkgPath,omitempty"`
}

// Imports represents a collection of package imports.
type Imports []*Import

func (i Imports) IndexByPackage() map[string]*Import {
	result := make(map[string]*Import)
	for _, item := range i {
		result[item.Package] = item
	}
	return result
}

func (i Imports) IsUnique() bool {
	var unique = make(map[string]bool)
	for _, item := range i {
		if _, known := unique[item.Package]; known {
			return false
		}
		unique[item.Package] = true
	}
	return len(unique) == len(i)
}

func (i Imports) PkgPath(pkg string) string {
	for _, item := range i {
		if item.Package == pkg {
			return item.PkgPath
		}
	}
	return ""
}

func (i Imports) HasPkgPath(pkgPath string) bool {
	for _, item := range i {
		if item.PkgPath == pkgPath {
			return true
		}
	}
	return false
}

// AllJobs returns all jobs in the pipeline keyed by both ID and name.
func (p *Pipeline) AllJobs() map[string]*graph.Job {
	jobs := make(map[string]*graph.Job)
	p.traverseJob(p.Jobs, jobs)
	for _, job := range p.Dependencies {
		p.traverseJob(job, jobs)
	}
	return jobs
}

func (p *Pipeline) traverseJob(job *graph.Job, jobs map[string]*graph.Job) {
	if job == nil {
		return
	}
	if _, exists := jobs[job.ID]; !exists {
		jobs[job.ID] = job
		jobs[job.Name] = job
		for _, step := range job.Steps {
			p.traverseJob(step, jobs)
		}
	}
}

// Clone creates a deep copy of the pipeline.
func (p *Pipeline) Clone() *Pipeline {
	if p == nil {
		return nil
	}
	clone := &Pipeline{
		Name:        p.Name,
		Description: p.Description,
		TypeName:    p.TypeName,
		Version:     p.Version,
	}
	if p.Source != nil {
		clone.Source = &Source{URL: p.Source.URL}
	}
	if p.Env != nil {
		clone.Env = make(state.Parameters, len(p.Env))
		copy(clone.Env, p.Env)
	}
	if p.Jobs != nil {
		clone.Jobs = p.Jobs.Clone()
	}
	if p.Dependencies != nil {
		clone.Dependencies = make(map[string]*graph.Job, len(p.Dependencies))
		for k, v := range p.Dependencies {
			clone.Dependencies[k] = v.Clone()
		}
	}
	if p.Post != nil {
		clone.Post = make(state.Parameters, len(p.Post))
		copy(clone.Post, p.Post)
	}
	if p.Defaults != nil {
		defaults := *p.Defaults
		if p.Defaults.Env != nil {
			defaults.Env = make(map[string]string, len(p.Defaults.Env))
			for k, v := range p.Defaults.Env {
				defaults.Env[k] = v
			}
		}
		clone.Defaults = &defaults
	}
	if p.Triggers != nil {
		clone.Triggers = &Triggers{Paths: append([]string{}, p.Triggers.Paths...)}
	}
	if p.Gate != nil {
		gate := *p.Gate
		clone.Gate = &gate
	}
	return clone
}
