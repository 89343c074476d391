package graph

import (
	"github.com/gantryci/gantry/model/state"
)

type (
	// Action binds a job to an action service method, e.g. system/exec:execute.
	Action struct {
		Service string      `json:"service,omitempty" yaml:"service,omitempty"`
		Method  string      `json:"method,omitempty" yaml:"method,omitempty"`
		Input   interface{} `json:"input,omitempty" yaml:"input,omitempty"`
	}

	// Job is a unit of scheduling. A job may hold nested Steps or a single
	// Action; a leaf job with an action is what pipeline authors call a step.
	Job struct {
		ID              string           `json:"id,omitempty" yaml:"id,omitempty"`
		TypeName        string           `json:"typeName,omitempty" yaml:"typeName,omitempty"`
		Name            string           `json:"name,omitempty" yaml:"name,omitempty"`
		Namespace       string           `json:"namespace,omitempty" yaml:"namespace,omitempty"`
		RunsOn          string           `json:"runsOn,omitempty" yaml:"runsOn,omitempty"`
		Env             state.Parameters `json:"env,omitempty" yaml:"env,omitempty"`
		If              string           `json:"if,omitempty" yaml:"if,omitempty"`
		Action          *Action          `json:"action,omitempty" yaml:"action,omitempty"`
		Needs           []string         `json:"needs,omitempty" yaml:"needs,omitempty"`
		Steps           []*Job           `json:"steps,omitempty" yaml:"steps,omitempty"`
		Post            state.Parameters `json:"post,omitempty" yaml:"post,omitempty"`
		Strategy        *Strategy        `json:"strategy,omitempty" yaml:"strategy,omitempty"`
		Goto            []*Transition    `json:"goto,omitempty" yaml:"goto,omitempty"`
		Async           bool             `json:"async,omitempty" yaml:"async,omitempty"`
		Gate            *bool            `json:"gate,omitempty" yaml:"gate,omitempty"`
		Retry           *Retry           `json:"retry,omitempty" yaml:"retry,omitempty"`
		Timeout         string           `json:"timeout,omitempty" yaml:"timeout,omitempty"`
		ContinueOnError bool             `json:"continueOnError,omitempty" yaml:"continueOnError,omitempty"`
	}

	// Retry controls re-execution of a failed step.
	Retry struct {
		Type       string  `json:"type,omitempty" yaml:"type,omitempty"` // fixed, exponential, none
		MaxRetries int     `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
		Delay      string  `json:"delay,omitempty" yaml:"delay,omitempty"`           // base delay (duration string)
		Multiplier float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"` // exponential multiplier (>1)
		MaxDelay   string  `json:"maxDelay,omitempty" yaml:"maxDelay,omitempty"`
	}

	// Transition routes to another job when its condition holds after this
	// job finishes.
	Transition struct {
		When string `json:"when,omitempty" yaml:"when,omitempty"`
		Job  string `json:"job,omitempty" yaml:"job,omitempty"`
	}
)

func (j *Job) IsAsync() bool {
	return j.Async
}

// IsGate reports whether the job requires manual approval before running.
func (j *Job) IsGate() bool {
	if j.Gate == nil {
		return false
	}
	return *j.Gate
}

// IsStep reports whether this is a leaf job carrying an action.
func (j *Job) IsStep() bool {
	return len(j.Steps) == 0 && j.Action != nil
}

// WithAction sets the action for the job.
func (j *Job) WithAction(service string, method string, input interface{}) *Job {
	j.Action = &Action{Service: service, Method: method, Input: input}
	return j
}

// WithRunsOn sets the runner host for the job.
func (j *Job) WithRunsOn(runsOn string) *Job {
	j.RunsOn = runsOn
	return j
}

// WithEnv adds a job-scoped parameter.
func (j *Job) WithEnv(name string, value interface{}) *Job {
	if j.Env == nil {
		j.Env = make(state.Parameters, 0)
	}
	j.Env.Add(name, value)
	return j
}

// WithPost adds a post-execution parameter promoted into session state.
func (j *Job) WithPost(name string, value interface{}) *Job {
	if j.Post == nil {
		j.Post = make(state.Parameters, 0)
	}
	j.Post.Add(name, value)
	return j
}

// WithNeeds adds a dependency on another job.
func (j *Job) WithNeeds(jobID string) *Job {
	j.Needs = append(j.Needs, jobID)
	return j
}

// WithIf guards the job with a condition expression.
func (j *Job) WithIf(expr string) *Job {
	j.If = expr
	return j
}

// WithGoto adds a conditional transition.
func (j *Job) WithGoto(when string, jobName string) *Job {
	j.Goto = append(j.Goto, &Transition{When: when, Job: jobName})
	return j
}

// WithAsync sets whether nested steps run concurrently.
func (j *Job) WithAsync(async bool) *Job {
	j.Async = async
	return j
}

// WithGate marks the job as requiring manual approval.
func (j *Job) WithGate(gate bool) *Job {
	j.Gate = &gate
	return j
}

// WithStrategy attaches a matrix strategy.
func (j *Job) WithStrategy(strategy *Strategy) *Job {
	j.Strategy = strategy
	return j
}

// AddStep adds a nested step (or grouped job) under this job.
func (j *Job) AddStep(name string) *Job {
	step := &Job{
		ID:        j.ID + "/" + name,
		Name:      name,
		Namespace: name,
	}
	j.Steps = append(j.Steps, step)
	return step
}

// CreateStep adds a nested step and applies the supplied options to it.
func (j *Job) CreateStep(name string, options ...func(*Job) *Job) *Job {
	step := j.AddStep(name)
	for _, option := range options {
		step = option(step)
	}
	return step
}

// Clone creates a deep copy of the job tree; matrix expansion clones the
// job per combination.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := &Job{
		ID:              j.ID,
		TypeName:        j.TypeName,
		Name:            j.Name,
		Namespace:       j.Namespace,
		RunsOn:          j.RunsOn,
		If:              j.If,
		Async:           j.Async,
		Timeout:         j.Timeout,
		ContinueOnError: j.ContinueOnError,
	}
	if j.Needs != nil {
		clone.Needs = make([]string, len(j.Needs))
		copy(clone.Needs, j.Needs)
	}
	if j.Env != nil {
		clone.Env = make(state.Parameters, len(j.Env))
		copy(clone.Env, j.Env)
	}
	if j.Action != nil {
		clone.Action = &Action{
			Service: j.Action.Service,
			Method:  j.Action.Method,
			Input:   j.Action.Input,
		}
	}
	if j.Steps != nil {
		clone.Steps = make([]*Job, len(j.Steps))
		for i, step := range j.Steps {
			clone.Steps[i] = step.Clone()
		}
	}
	if j.Post != nil {
		clone.Post = make(state.Parameters, len(j.Post))
		copy(clone.Post, j.Post)
	}
	if j.Strategy != nil {
		clone.Strategy = j.Strategy.Clone()
	}
	if j.Gate != nil {
		gate := *j.Gate
		clone.Gate = &gate
	}
	if j.Retry != nil {
		retry := *j.Retry
		clone.Retry = &retry
	}
	if j.Goto != nil {
		clone.Goto = make([]*Transition, len(j.Goto))
		for i, transition := range j.Goto {
			clone.Goto[i] = &Transition{When: transition.When, Job: transition.Job}
		}
	}
	return clone
}
