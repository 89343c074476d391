// Package pipeline loads CI pipeline definitions from YAML, JSON or JSONC
// documents and parses them into the model.Pipeline graph.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gantryci/gantry/internal/yml"
	"github.com/gantryci/gantry/model"
	"github.com/gantryci/gantry/model/graph"
	"github.com/gantryci/gantry/model/state"
	"github.com/gantryci/gantry/service/dao/pipeline/parameters"
	"github.com/gantryci/gantry/service/meta"
	"github.com/tidwall/jsonc"
	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Service loads and parses pipeline definitions. Parsed definitions are
// cached per location; the cache reloads when the source document changes.
type Service struct {
	metaService  *meta.Service
	rootNodeName string
	cache        *cache
}

// RootNodeName returns the mapping key holding the job graph, "jobs" by default.
func (s *Service) RootNodeName() string {
	return s.rootNodeName
}

// DecodeYAML decodes a pipeline from YAML (or JSON, a YAML subset).
func (s *Service) DecodeYAML(encoded []byte) (*model.Pipeline, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(encoded, &node); err != nil {
		return nil, err
	}
	return s.ParsePipeline("", &node)
}

// Load loads a pipeline definition from the specified URL. `.json` and
// `.jsonc` documents are normalised with jsonc before decoding; everything
// else is treated as YAML.
func (s *Service) Load(ctx context.Context, URL string) (*model.Pipeline, error) {
	ext := strings.ToLower(filepath.Ext(URL))
	if ext == "" {
		URL += ".yaml"
		ext = ".yaml"
	}
	if cached := s.cache.lookup(ctx, s.metaService, URL); cached != nil {
		return cached, nil
	}
	data, err := s.metaService.Download(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline from %s: %w", URL, err)
	}
	if ext == ".json" || ext == ".jsonc" {
		data = jsonc.ToJSON(data)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline from %s: %w", URL, err)
	}
	pipeline, err := s.ParsePipeline(URL, &node)
	if err != nil {
		return nil, err
	}
	s.cache.store(ctx, s.metaService, URL, pipeline)
	return pipeline, nil
}

// Refresh discards any cached copy of the definition at the given location.
func (s *Service) Refresh(location string) {
	s.cache.remove(location)
}

// Upsert stores a parsed definition in the cache under the given location.
func (s *Service) Upsert(location string, pipeline *model.Pipeline) {
	s.cache.put(location, pipeline)
}

// ParsePipeline converts a decoded YAML node tree into a pipeline model.
func (s *Service) ParsePipeline(URL string, node *yaml.Node) (*model.Pipeline, error) {
	pipeline := &model.Pipeline{
		Source: &model.Source{URL: URL},
		Name:   pipelineNameFromURL(URL),
	}
	if err := s.parsePipeline((*yml.Node)(node), pipeline); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline from %s: %w", URL, err)
	}
	if pipeline.Name == "" {
		pipeline.Name = generateAnonymousName()
	}
	if pipeline.Jobs != nil {
		assignJobIDs(pipeline.Jobs, pipeline.Name, "")
		applyDefaults(pipeline.Jobs, pipeline.Defaults)
	}
	for _, dep := range pipeline.Dependencies {
		assignJobIDs(dep, pipeline.Name, "")
		applyDefaults(dep, pipeline.Defaults)
	}
	if pipeline.Gate != nil && *pipeline.Gate && pipeline.Jobs != nil {
		for _, job := range pipeline.Jobs.Steps {
			if job.Gate == nil {
				job.WithGate(true)
			}
		}
	}
	if issues := pipeline.Validate(); len(issues) > 0 {
		return nil, issues[0]
	}
	return pipeline, nil
}

// pipelineNameFromURL extracts the pipeline name from its location (file name
// without extension).
func pipelineNameFromURL(URL string) string {
	base := filepath.Base(URL)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// assignJobIDs recursively qualifies job IDs with their parent path.
func assignJobIDs(job *graph.Job, pipelineName, parentID string) {
	if job.ID == "" && parentID == "" {
		job.ID = pipelineName
	}
	if job.Namespace == "" && job.Name != "" {
		job.Namespace = job.Name
	}
	jobID := job.ID
	if parentID != "" {
		jobID = parentID + "/" + jobID
	}
	job.ID = jobID

	for _, step := range job.Steps {
		assignJobIDs(step, pipelineName, jobID)
	}
}

// applyDefaults fills pipeline-wide defaults into steps that do not override
// them.
func applyDefaults(job *graph.Job, defaults *model.Defaults) {
	if defaults == nil || job == nil {
		return
	}
	if job.IsStep() {
		if job.RunsOn == "" {
			job.RunsOn = defaults.RunsOn
		}
		for name, value := range defaults.Env {
			if _, ok := job.Env.Get(name); !ok {
				job.WithEnv(name, value)
			}
		}
	}
	for _, step := range job.Steps {
		applyDefaults(step, defaults)
	}
}

// parsePipeline converts the document root into the pipeline model.
func (s *Service) parsePipeline(node *yml.Node, pipeline *model.Pipeline) error {
	rootNode := node
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		rootNode = (*yml.Node)(node.Content[0])
	}
	rootNodeName := strings.ToLower(s.rootNodeName)
	return rootNode.Pairs(func(key string, valueNode *yml.Node) error {
		switch strings.ToLower(key) {
		case "name":
			if valueNode.Kind == yaml.ScalarNode {
				pipeline.Name = valueNode.Value
			}
		case "description":
			if valueNode.Kind == yaml.ScalarNode {
				pipeline.Description = valueNode.Value
			}
		case "version":
			if valueNode.Kind == yaml.ScalarNode {
				pipeline.Version = valueNode.Value
			}
		case "typename":
			if valueNode.Kind == yaml.ScalarNode {
				pipeline.TypeName = valueNode.Value
			}
		case "import":
			pipeline.Imports = make(model.Imports, 0)
			if valueNode.Kind == yaml.MappingNode {
				if err := valueNode.Pairs(func(pkg string, pkgNode *yml.Node) error {
					pipeline.Imports = append(pipeline.Imports, &model.Import{
						Package: pkg,
						PkgPath: pkgNode.Value,
					})
					return nil
				}); err != nil {
					return fmt.Errorf("failed to parse import: %w", err)
				}
			}
		case "gate":
			flag, ok := valueNode.Interface().(bool)
			if !ok {
				return fmt.Errorf("gate should be a boolean")
			}
			pipeline.Gate = &flag
		case "env":
			env, err := parseParameters(valueNode)
			if err != nil {
				return fmt.Errorf("failed to parse env parameters: %w", err)
			}
			pipeline.Env = env
		case "post":
			post, err := parseParameters(valueNode)
			if err != nil {
				return fmt.Errorf("failed to parse post parameters: %w", err)
			}
			pipeline.Post = post
		case "defaults":
			defaults, err := parseDefaults(valueNode)
			if err != nil {
				return err
			}
			pipeline.Defaults = defaults
		case "on", "triggers":
			triggers, err := parseTriggers(valueNode)
			if err != nil {
				return err
			}
			pipeline.Triggers = triggers
		case rootNodeName:
			jobs, err := s.parseRootJob(valueNode)
			if err != nil {
				return fmt.Errorf("failed to parse jobs: %w", err)
			}
			pipeline.Jobs = jobs
		case "dependencies":
			pipeline.Dependencies = make(map[string]*graph.Job)
			deps, err := s.parseRootJob(valueNode)
			if err != nil {
				return fmt.Errorf("failed to parse dependencies: %w", err)
			}
			for i := range deps.Steps {
				dep := deps.Steps[i]
				pipeline.Dependencies[dep.Name] = dep
			}
		}
		return nil
	})
}

// parseRootJob converts the jobs mapping (or sequence) into an anonymous
// holder job whose Steps are the user-defined jobs.
func (s *Service) parseRootJob(node *yml.Node) (*graph.Job, error) {
	root := &graph.Job{Async: true}
	var jobs []*graph.Job

	switch node.Kind {
	case yaml.MappingNode:
		if err := node.Pairs(func(key string, jobNode *yml.Node) error {
			job, err := s.parseJob(key, jobNode)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
			return nil
		}); err != nil {
			return nil, err
		}
	case yaml.SequenceNode:
		if err := node.Items(func(index int, itemNode *yml.Node) error {
			name := itemNode.Lookup("name")
			if name == nil {
				name = itemNode.Lookup("id")
			}
			if name == nil || name.Kind != yaml.ScalarNode {
				return fmt.Errorf("jobs[%d] is missing a name", index)
			}
			job, err := s.parseJob(name.Value, itemNode)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
			return nil
		}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("jobs node should be a mapping or a sequence")
	}
	root.Steps = jobs
	return root, nil
}

// parseJob converts a YAML node into a graph.Job.
func (s *Service) parseJob(id string, node *yml.Node) (*graph.Job, error) {
	job := &graph.Job{
		ID:   id,
		Name: id,
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("job %s should be a mapping", id)
	}

	var run []string
	var shell, workdir string

	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		switch strings.ToLower(key) {
		case "id":
			// consumed by the caller for sequence-style jobs
		case "action":
			if job.Action != nil {
				return fmt.Errorf("job %s declares both run and action", id)
			}
			if valueNode.Kind == yaml.ScalarNode {
				parts := strings.Split(valueNode.Value, ":")
				action := &graph.Action{Service: parts[0]}
				if len(parts) > 1 {
					action.Method = parts[1]
				}
				job.Action = action
			} else if valueNode.Kind == yaml.MappingNode {
				action := &graph.Action{}
				_ = valueNode.Pairs(func(actionKey string, actionValue *yml.Node) error {
					switch strings.ToLower(actionKey) {
					case "service":
						action.Service = actionValue.Value
					case "method":
						action.Method = actionValue.Value
					case "input":
						action.Input = actionValue.Interface()
					}
					return nil
				})
				job.Action = action
			}
		case "run":
			run = valueNode.Strings()
			if run == nil {
				return fmt.Errorf("run should be a string or a sequence of strings")
			}
		case "shell":
			if valueNode.Kind == yaml.ScalarNode {
				shell = valueNode.Value
			}
		case "workdir", "working-directory":
			if valueNode.Kind == yaml.ScalarNode {
				workdir = valueNode.Value
			}
		case "runs-on", "runson":
			if valueNode.Kind == yaml.ScalarNode {
				job.RunsOn = valueNode.Value
			}
		case "if", "when":
			if valueNode.Kind == yaml.ScalarNode {
				job.If = valueNode.Value
			}
		case "needs", "dependson":
			needs := valueNode.Strings()
			if needs == nil {
				return fmt.Errorf("needs should be a string or a sequence of strings")
			}
			job.Needs = needs
		case "strategy":
			strategy, err := parseStrategy(valueNode)
			if err != nil {
				return fmt.Errorf("job %s: %w", id, err)
			}
			job.Strategy = strategy
		case "matrix":
			matrix, err := parseMatrix(valueNode)
			if err != nil {
				return fmt.Errorf("job %s: %w", id, err)
			}
			if job.Strategy == nil {
				job.Strategy = &graph.Strategy{}
			}
			job.Strategy.Matrix = matrix
		case "env":
			params, err := parseParameters(valueNode)
			if err != nil {
				return err
			}
			job.Env = params
		case "post":
			params, err := parseParameters(valueNode)
			if err != nil {
				return err
			}
			job.Post = params
		case "retry":
			retry, err := parseRetry(valueNode)
			if err != nil {
				return fmt.Errorf("job %s: %w", id, err)
			}
			job.Retry = retry
		case "timeout":
			if valueNode.Kind == yaml.ScalarNode {
				job.Timeout = valueNode.Value
			}
		case "gate":
			flag, ok := valueNode.Interface().(bool)
			if !ok {
				return fmt.Errorf("gate should be a boolean")
			}
			job.Gate = &flag
		case "continueonerror", "continue-on-error":
			flag, ok := valueNode.Interface().(bool)
			if !ok {
				return fmt.Errorf("continueOnError should be a boolean")
			}
			job.ContinueOnError = flag
		case "async":
			flag, ok := valueNode.Interface().(bool)
			if !ok {
				return fmt.Errorf("async should be a boolean")
			}
			job.Async = flag
		case "goto":
			if valueNode.Kind == yaml.SequenceNode {
				for _, transNode := range valueNode.Content {
					trans, err := parseTransition((*yml.Node)(transNode))
					if err != nil {
						return err
					}
					job.Goto = append(job.Goto, trans)
				}
			} else if valueNode.Kind == yaml.MappingNode {
				trans, err := parseTransition(valueNode)
				if err != nil {
					return err
				}
				job.Goto = append(job.Goto, trans)
			}
		case "input", "with":
			if job.Action == nil {
				job.Action = &graph.Action{}
			}
			job.Action.Input = valueNode.Interface()
		case "name":
			if valueNode.Kind == yaml.ScalarNode {
				job.Name = valueNode.Value
			}
		case "namespace":
			if valueNode.Kind == yaml.ScalarNode {
				job.Namespace = valueNode.Value
			}
		case "typename":
			if valueNode.Kind == yaml.ScalarNode {
				job.TypeName = valueNode.Value
			}
		case "steps":
			steps, err := s.parseRootJob(valueNode)
			if err != nil {
				return err
			}
			job.Steps = append(job.Steps, steps.Steps...)
		default:
			// a nested mapping defines an inline sub-job
			if valueNode.Kind == yaml.MappingNode {
				step, err := s.parseJob(key, valueNode)
				if err != nil {
					return err
				}
				job.Steps = append(job.Steps, step)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(run) > 0 {
		if job.Action != nil {
			return nil, fmt.Errorf("job %s declares both run and action", id)
		}
		job.Action = lowerRun(run, shell, workdir)
	}
	if job.Namespace == "" {
		job.Namespace = job.Name
	}
	return job, nil
}

// lowerRun converts `run:` sugar into a system/exec:execute action.
func lowerRun(commands []string, shell, workdir string) *graph.Action {
	if shell != "" && shell != "bash" && shell != "sh" {
		wrapped := make([]string, len(commands))
		for i, cmd := range commands {
			wrapped[i] = fmt.Sprintf("%s -c %q", shell, cmd)
		}
		commands = wrapped
	}
	input := map[string]interface{}{"commands": commands}
	if workdir != "" {
		input["workdir"] = workdir
	}
	return &graph.Action{
		Service: "system/exec",
		Method:  "execute",
		Input:   input,
	}
}

// parseStrategy parses a strategy mapping (matrix, fail-fast, max-parallel).
func parseStrategy(node *yml.Node) (*graph.Strategy, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("strategy should be a mapping")
	}
	strategy := &graph.Strategy{}
	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		switch strings.ToLower(key) {
		case "matrix":
			matrix, err := parseMatrix(valueNode)
			if err != nil {
				return err
			}
			strategy.Matrix = matrix
		case "fail-fast", "failfast":
			flag, ok := valueNode.Interface().(bool)
			if !ok {
				return fmt.Errorf("fail-fast should be a boolean")
			}
			strategy.FailFast = &flag
		case "max-parallel", "maxparallel":
			value, ok := valueNode.Interface().(int)
			if !ok {
				return fmt.Errorf("max-parallel should be an integer")
			}
			strategy.MaxParallel = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return strategy, nil
}

// parseMatrix parses a matrix mapping; every key except include/exclude
// declares an axis.
func parseMatrix(node *yml.Node) (*graph.Matrix, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("matrix should be a mapping")
	}
	matrix := &graph.Matrix{Axes: map[string][]interface{}{}}
	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		switch strings.ToLower(key) {
		case "include", "exclude":
			if valueNode.Kind != yaml.SequenceNode {
				return fmt.Errorf("%s should be a sequence of mappings", key)
			}
			var entries []map[string]interface{}
			if err := valueNode.Items(func(index int, item *yml.Node) error {
				entry, ok := item.Interface().(map[string]interface{})
				if !ok {
					return fmt.Errorf("%s[%d] should be a mapping", key, index)
				}
				entries = append(entries, entry)
				return nil
			}); err != nil {
				return err
			}
			if strings.EqualFold(key, "include") {
				matrix.Include = entries
			} else {
				matrix.Exclude = entries
			}
		default:
			switch valueNode.Kind {
			case yaml.SequenceNode:
				values, ok := valueNode.Interface().([]interface{})
				if !ok {
					return fmt.Errorf("axis %s should be a sequence", key)
				}
				matrix.Axes[key] = values
			case yaml.ScalarNode:
				matrix.Axes[key] = []interface{}{valueNode.Interface()}
			default:
				return fmt.Errorf("axis %s should be a scalar or a sequence", key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matrix, nil
}

// parseRetry parses a retry mapping.
func parseRetry(node *yml.Node) (*graph.Retry, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("retry should be a mapping")
	}
	retry := &graph.Retry{}
	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		switch strings.ToLower(key) {
		case "type":
			retry.Type = valueNode.Value
		case "maxretries", "max-retries":
			value, ok := valueNode.Interface().(int)
			if !ok {
				return fmt.Errorf("maxRetries should be an integer")
			}
			retry.MaxRetries = value
		case "delay":
			retry.Delay = valueNode.Value
		case "multiplier":
			switch value := valueNode.Interface().(type) {
			case float64:
				retry.Multiplier = value
			case int:
				retry.Multiplier = float64(value)
			default:
				return fmt.Errorf("multiplier should be numeric")
			}
		case "maxdelay", "max-delay":
			retry.MaxDelay = valueNode.Value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return retry, nil
}

// parseTransition parses a goto entry.
func parseTransition(node *yml.Node) (*graph.Transition, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("goto entry should be a mapping")
	}
	transition := &graph.Transition{}
	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		switch strings.ToLower(key) {
		case "when":
			if valueNode.Kind == yaml.ScalarNode {
				transition.When = valueNode.Value
			}
		case "job", "task":
			if valueNode.Kind == yaml.ScalarNode {
				transition.Job = valueNode.Value
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transition, nil
}

// parseDefaults parses a defaults mapping.
func parseDefaults(node *yml.Node) (*model.Defaults, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("defaults should be a mapping")
	}
	defaults := &model.Defaults{}
	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		switch strings.ToLower(key) {
		case "runs-on", "runson":
			defaults.RunsOn = valueNode.Value
		case "env":
			if valueNode.Kind != yaml.MappingNode {
				return fmt.Errorf("defaults.env should be a mapping")
			}
			defaults.Env = map[string]string{}
			return valueNode.Pairs(func(name string, envNode *yml.Node) error {
				defaults.Env[name] = envNode.Value
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return defaults, nil
}

// parseTriggers parses an on/triggers mapping.
func parseTriggers(node *yml.Node) (*model.Triggers, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("on should be a mapping")
	}
	triggers := &model.Triggers{}
	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		switch strings.ToLower(key) {
		case "paths":
			paths := valueNode.Strings()
			if paths == nil {
				return fmt.Errorf("on.paths should be a string or a sequence of strings")
			}
			triggers.Paths = paths
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return triggers, nil
}

// parseParameters converts a mapping node into state.Parameters. Keys using
// the typed syntax `name[type](kind/location)` are parsed into a data type
// and binding location.
func parseParameters(node *yml.Node) (state.Parameters, error) {
	var params state.Parameters
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parameters node should be a mapping")
	}
	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		if strings.Contains(key, "[") && !strings.HasSuffix(key, "[]") {
			parameter, err := parameters.Parse([]byte(key))
			if err != nil {
				return fmt.Errorf("failed to parse parameter: %w", err)
			}
			parameter.Value = valueNode.Interface()
			params = append(params, parameter)
			return nil
		}
		val := valueNode.Interface()
		// Untyped numeric scalars decode as int; normalise to float64 so values
		// survive a JSON round trip unchanged.
		switch typed := val.(type) {
		case int:
			val = float64(typed)
		case int64:
			val = float64(typed)
		case uint:
			val = float64(typed)
		case uint64:
			val = float64(typed)
		}
		params = append(params, &state.Parameter{Name: key, Value: val})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return params, nil
}

// New creates a new pipeline definition service.
func New(opts ...Option) *Service {
	ret := &Service{
		metaService:  meta.New(afs.New(), ""),
		rootNodeName: "jobs",
		cache:        newCache(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}
