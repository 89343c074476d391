package gantry

import (
	"context"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/x"

	"github.com/gantryci/gantry/extension"
	"github.com/gantryci/gantry/model/types"
	"github.com/gantryci/gantry/runtime/execution"
	aartifact "github.com/gantryci/gantry/service/action/artifact"
	"github.com/gantryci/gantry/service/action/nop"
	apipeline "github.com/gantryci/gantry/service/action/pipeline"
	"github.com/gantryci/gantry/service/action/printer"
	"github.com/gantryci/gantry/service/action/report"
	aexec "github.com/gantryci/gantry/service/action/system/exec"
	apatch "github.com/gantryci/gantry/service/action/system/patch"
	asecret "github.com/gantryci/gantry/service/action/system/secret"
	astorage "github.com/gantryci/gantry/service/action/system/storage"
	"github.com/gantryci/gantry/service/approval"
	amemory "github.com/gantryci/gantry/service/approval/memory"
	"github.com/gantryci/gantry/service/artifact"
	ememory "github.com/gantryci/gantry/service/dao/execution/memory"
	pipelinedao "github.com/gantryci/gantry/service/dao/pipeline"
	rmemory "github.com/gantryci/gantry/service/dao/run/memory"
	"github.com/gantryci/gantry/service/event"
	"github.com/gantryci/gantry/service/executor"
	"github.com/gantryci/gantry/service/history"
	"github.com/gantryci/gantry/service/messaging"
	mmemory "github.com/gantryci/gantry/service/messaging/memory"
	"github.com/gantryci/gantry/service/meta"
	"github.com/gantryci/gantry/service/processor"
	"github.com/gantryci/gantry/service/scheduler"
)

// Service is the engine facade: it owns the action registry, the worker
// pool, the scheduler and the stores, and hands out a Runtime for starting
// and observing runs.
type Service struct {
	runtime           *Runtime
	metaService       *meta.Service
	actions           *extension.Actions
	extensionTypes    []*x.Type
	extensionServices []types.Service
	executor          executor.Service
	executorOptions   []executor.Option
	queue             messaging.Queue[execution.Execution]
	approvalService   approval.Service
	eventService      *event.Service
	history           *history.Service
	artifacts         artifact.Store
	rootNodeName      string
	metaBaseURL       string
	metaFsOptions     []storage.Option
	processorWorkers  int
	schedulerInterval time.Duration
	queueBuffer       int
}

func (s *Service) init(options []Option) {
	for _, option := range options {
		option(s)
	}
	s.ensureBaseSetup()

	s.actions = extension.NewActions(s.extensionTypes...)
	s.executor = executor.NewService(s.actions, s.executorOptions...)
	s.runtime.processor, _ = processor.New(
		processor.WithExecutor(s.executor),
		processor.WithMessageQueue(s.queue),
		processor.WithWorkers(s.processorWorkers),
		processor.WithExecutionDAO(s.runtime.executionDAO),
		processor.WithRunDAO(s.runtime.runDAO),
		processor.WithApprovalService(s.approvalService))

	s.actions.Register(printer.New())
	s.actions.Register(aexec.New())
	s.actions.Register(astorage.New())
	s.actions.Register(asecret.New())
	s.actions.Register(apatch.New())
	s.actions.Register(report.New())
	s.actions.Register(aartifact.New(s.artifacts))
	s.actions.Register(nop.New())
	for _, service := range s.extensionServices {
		s.actions.Register(service)
	}
	s.runtime.pipelineService = apipeline.New(s.runtime.processor, s.runtime.pipelineDAO, s.runtime.runDAO)
	s.actions.Register(s.runtime.pipelineService)

	schedulerOptions := []scheduler.Option{scheduler.WithApprovalService(s.approvalService)}
	if s.history != nil {
		schedulerOptions = append(schedulerOptions, scheduler.WithRecorder(s.history))
	}
	s.runtime.scheduler = scheduler.New(
		s.runtime.runDAO,
		s.runtime.executionDAO,
		s.queue,
		scheduler.Config{PollingInterval: s.schedulerInterval},
		schedulerOptions...)

	s.runtime.actions = s.actions
	s.runtime.events = s.eventService
	s.runtime.approval = s.approvalService
	s.runtime.history = s.history
	s.runtime.artifacts = s.artifacts
	s.runtime.queue = s.queue
}

func (s *Service) ensureBaseSetup() {
	if s.metaService == nil {
		s.metaService = meta.New(afs.New(), s.metaBaseURL, s.metaFsOptions...)
	}
	if s.runtime.pipelineDAO == nil {
		if s.rootNodeName == "" {
			s.rootNodeName = "jobs"
		}
		s.runtime.pipelineDAO = pipelinedao.New(
			pipelinedao.WithRootNodeName(s.rootNodeName),
			pipelinedao.WithMetaService(s.metaService))
	}
	if s.queue == nil {
		config := mmemory.DefaultConfig()
		if s.queueBuffer > 0 {
			config.QueueBuffer = s.queueBuffer
		}
		s.queue = mmemory.NewQueue[execution.Execution](config)
	}
	if s.runtime.runDAO == nil {
		s.runtime.runDAO = rmemory.New()
	}
	if s.runtime.executionDAO == nil {
		s.runtime.executionDAO = ememory.New()
	}
	if s.processorWorkers <= 0 {
		s.processorWorkers = DefaultConfig().Processor.WorkerCount
	}
	if s.schedulerInterval <= 0 {
		s.schedulerInterval = DefaultConfig().Scheduler.PollingInterval
	}
	if s.eventService == nil {
		s.eventService, _ = event.New(messaging.VendorMemory)
	}
	if s.approvalService == nil {
		s.approvalService = amemory.New(s.runtime.executionDAO,
			amemory.WithRunDAO(s.runtime.runDAO),
			amemory.WithExecutionQueue(s.queue))
	}
	if s.artifacts == nil {
		s.artifacts = artifact.NewFS(DefaultConfig().Artifacts.BaseURL)
	}
}

// RegisterExtensionTypes registers additional Go types resolvable from
// pipeline definitions.
func (s *Service) RegisterExtensionTypes(types ...*x.Type) {
	for i := range types {
		s.actions.Types().Register(types[i])
	}
}

// RegisterExtensionServices registers additional action services.
func (s *Service) RegisterExtensionServices(services ...types.Service) {
	for i := range services {
		s.actions.Register(services[i])
	}
}

func (s *Service) RegisterExtensionType(aType *x.Type) {
	s.extensionTypes = append(s.extensionTypes, aType)
}

// Runtime returns the engine runtime.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}

// NewContext binds the action registry and the event service to ctx so that
// action services and the scheduler can reach them.
func (s *Service) NewContext(ctx context.Context) *execution.Context {
	return execution.NewContext(ctx, s.actions, s.eventService)
}

// New creates a new engine service.
func New(options ...Option) *Service {
	ret := &Service{runtime: &Runtime{}}
	ret.init(options)
	return ret
}

// NewFromConfig creates a service from a validated configuration; options
// are applied on top and win over config values.
func NewFromConfig(config *Config, options ...Option) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	base := []Option{
		WithProcessorWorkers(config.Processor.WorkerCount),
		WithSchedulerInterval(config.Scheduler.PollingInterval),
		WithQueueBuffer(config.Queue.Buffer),
	}
	if config.Meta.BaseURL != "" {
		base = append(base, WithMetaBaseURL(config.Meta.BaseURL))
	}
	if config.Artifacts.BaseURL != "" {
		base = append(base, WithArtifactStore(artifact.NewFS(config.Artifacts.BaseURL)))
	}
	if config.History.DSN != "" {
		executionDAO := ememory.New()
		store, err := history.Open(config.History.DSN, history.WithExecutionSource(executionDAO))
		if err != nil {
			return nil, err
		}
		base = append(base,
			WithExecutionDAO(executionDAO),
			WithHistory(store))
	}
	return New(append(base, options...)...), nil
}
