package types

// Service is an action service callable from pipeline steps.
type Service interface {
	Name() string
	Methods() Signatures
	Method(name string) (Executable, error)
}

// Proxy decorates a service while keeping its name and signatures.
type Proxy func(base Service) Service
