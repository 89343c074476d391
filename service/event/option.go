package event

import (
	"github.com/gantryci/gantry/service/messaging/fs"
	"github.com/gantryci/gantry/service/messaging/memory"
)

// Option customizes the event service.
type Option func(s *Service)

// WithFSQueueConfig supplies the per-queue filesystem configuration.
func WithFSQueueConfig(newConfig func(name string) fs.Config) Option {
	return func(s *Service) {
		s.fsQueueConfig = newConfig
	}
}

// WithMemoryQueueConfig supplies the per-queue memory configuration.
func WithMemoryQueueConfig(newConfig func(name string) memory.Config) Option {
	return func(s *Service) {
		s.memoryQueueConfig = newConfig
	}
}
