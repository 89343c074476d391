package scheduler

import "github.com/gantryci/gantry/service/approval"

// Option customizes the scheduler service.
type Option func(*Service)

// WithRecorder attaches a history recorder invoked when a run finishes.
func WithRecorder(recorder Recorder) Option {
	return func(s *Service) {
		s.recorder = recorder
	}
}

// WithApprovalService attaches the approval service used to file requests
// for gate jobs that never reach the processor queue.
func WithApprovalService(service approval.Service) Option {
	return func(s *Service) {
		s.approval = service
	}
}
