package pipeline

import "github.com/gantryci/gantry/service/meta"

type Option func(*Service)

// WithRootNodeName sets the mapping key holding the job graph.
func WithRootNodeName(name string) Option {
	return func(s *Service) {
		s.rootNodeName = name
	}
}

// WithMetaService sets the definition loader.
func WithMetaService(meta *meta.Service) Option {
	return func(s *Service) {
		s.metaService = meta
	}
}
