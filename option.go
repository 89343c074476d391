package gantry

import (
	"time"

	"github.com/viant/afs/storage"
	"github.com/viant/x"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/gantryci/gantry/model/types"
	"github.com/gantryci/gantry/runtime/execution"
	"github.com/gantryci/gantry/service/approval"
	"github.com/gantryci/gantry/service/artifact"
	"github.com/gantryci/gantry/service/dao"
	"github.com/gantryci/gantry/service/event"
	"github.com/gantryci/gantry/service/executor"
	"github.com/gantryci/gantry/service/history"
	"github.com/gantryci/gantry/service/messaging"
	"github.com/gantryci/gantry/service/meta"
	"github.com/gantryci/gantry/tracing"
)

// Option customizes the engine service.
type Option func(s *Service)

// WithApprovalService sets the approval service backing manual gates.
func WithApprovalService(svc approval.Service) Option {
	return func(s *Service) { s.approvalService = svc }
}

// WithExtensionTypes sets the extension types
func WithExtensionTypes(types ...*x.Type) Option {
	return func(s *Service) {
		s.extensionTypes = types
	}
}

func WithEventService(service *event.Service) Option {
	return func(s *Service) {
		s.eventService = service
	}
}

// WithMetaService sets the meta service
func WithMetaService(service *meta.Service) Option {
	return func(s *Service) {
		s.metaService = service
	}
}

// WithExtensionServices sets the extension services
func WithExtensionServices(services ...types.Service) Option {
	return func(s *Service) {
		s.extensionServices = services
	}
}

// WithQueue sets the message queue
func WithQueue(queue messaging.Queue[execution.Execution]) Option {
	return func(s *Service) {
		s.queue = queue
	}
}

// WithQueueBuffer sets the default memory queue buffer size.
func WithQueueBuffer(size int) Option {
	return func(s *Service) {
		s.queueBuffer = size
	}
}

// WithRootNodeName sets the mapping key holding the job graph, "jobs" by
// default.
func WithRootNodeName(name string) Option {
	return func(s *Service) {
		s.rootNodeName = name
	}
}

// WithRunDAO sets the run store.
func WithRunDAO(dao dao.Service[string, execution.Run]) Option {
	return func(s *Service) {
		s.runtime.runDAO = dao
	}
}

// WithExecutionDAO sets the execution store.
func WithExecutionDAO(dao dao.Service[string, execution.Execution]) Option {
	return func(s *Service) {
		s.runtime.executionDAO = dao
	}
}

// WithProcessorWorkers sets the number of step workers.
func WithProcessorWorkers(count int) Option {
	return func(s *Service) {
		s.processorWorkers = count
	}
}

// WithSchedulerInterval sets how often the scheduler sweeps running runs.
func WithSchedulerInterval(interval time.Duration) Option {
	return func(s *Service) {
		s.schedulerInterval = interval
	}
}

// WithHistory attaches the run history store; finished runs are recorded
// there.
func WithHistory(store *history.Service) Option {
	return func(s *Service) {
		s.history = store
	}
}

// WithArtifactStore sets the artifact store backing artifact actions.
func WithArtifactStore(store artifact.Store) Option {
	return func(s *Service) {
		s.artifacts = store
	}
}

// WithExecutorOptions lets the caller supply additional options passed to
// executor.NewService (e.g. a completion listener).
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(s *Service) {
		s.executorOptions = append(s.executorOptions, opts...)
	}
}

// WithMetaBaseURL sets the meta base URL
func WithMetaBaseURL(url string) Option {
	return func(s *Service) {
		s.metaBaseURL = url
	}
}

// WithMetaFsOptions with meta file system options
func WithMetaFsOptions(options ...storage.Option) Option {
	return func(s *Service) {
		s.metaFsOptions = options
	}
}

// WithTracing configures OpenTelemetry tracing for the service. If outputFile is empty the
// stdout exporter is used; otherwise traces are written to the supplied file path. The function is
// safe to call multiple times; the first successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom SpanExporter. This enables
// integrations with exporters other than the built-in stdout exporter, for example OTLP, Jaeger or
// Zipkin. The function is safe to call multiple times; the first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
