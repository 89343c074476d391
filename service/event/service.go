// Package event distributes engine notifications such as run
// transitions, step progress and approval requests over queues, one
// queue per payload type plus an untyped firehose.
package event

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/gantryci/gantry/service/messaging"
	"github.com/gantryci/gantry/service/messaging/fs"
	"github.com/gantryci/gantry/service/messaging/memory"
	"github.com/viant/afs"
)

// Service owns the event queues and the typed publishers and listeners
// built on top of them.
type Service struct {
	publisher         *Publisher[any]
	listener          *Listener[any]
	typedPublishers   map[reflect.Type]any
	typedListeners    map[reflect.Type]any
	mux               *sync.RWMutex
	queueVendor       messaging.Vendor
	fsQueueConfig     func(name string) fs.Config
	memoryQueueConfig func(name string) memory.Config
}

// SetListener replaces the firehose listener.
func (s *Service) SetListener(handler func(*Event[any])) {
	if s.listener != nil {
		s.listener.Stop()
	}
	s.listener = NewListener[any](s.publisher, handler)
	s.listener.Start()
}

// New creates an event service over the given queue vendor.
func New(queueVendor messaging.Vendor, opts ...Option) (*Service, error) {
	ret := &Service{
		queueVendor:     queueVendor,
		typedPublishers: make(map[reflect.Type]any),
		typedListeners:  make(map[reflect.Type]any),
		mux:             &sync.RWMutex{},
	}
	for _, opt := range opts {
		opt(ret)
	}

	switch queueVendor {
	case messaging.VendorFS:
		if ret.fsQueueConfig == nil {
			return nil, fmt.Errorf("fs queue vendor requires a queue config")
		}
	case messaging.VendorMemory:
		if ret.memoryQueueConfig == nil {
			ret.memoryQueueConfig = func(string) memory.Config { return memory.DefaultConfig() }
		}
	default:
		return nil, fmt.Errorf("unsupported queue vendor: %s", queueVendor)
	}

	queue, err := QueueOf[Event[any]](ret, "any")
	if err != nil {
		return nil, err
	}
	ret.publisher = NewPublisher[any](queue)
	return ret, nil
}

// QueueOf builds a queue named after the payload type using the
// service's vendor.
func QueueOf[T any](s *Service, name string) (messaging.Queue[T], error) {
	switch s.queueVendor {
	case messaging.VendorFS:
		return fs.NewQueue[T](afs.New(), s.fsQueueConfig(name))
	case messaging.VendorMemory:
		return memory.NewQueue[T](s.memoryQueueConfig(name)), nil
	}
	return nil, fmt.Errorf("unsupported queue vendor: %s", s.queueVendor)
}

func keyOf[T any]() reflect.Type {
	var t T
	rType := reflect.TypeOf(t)
	if rType != nil && rType.Kind() == reflect.Ptr {
		rType = rType.Elem()
	}
	return rType
}

// SetListenerOf attaches a handler for one payload type, replacing any
// previous listener for that type.
func SetListenerOf[T any](s *Service, handler func(*Event[T])) error {
	key := keyOf[T]()
	s.mux.RLock()
	existing, ok := s.typedListeners[key]
	s.mux.RUnlock()
	if ok {
		existing.(*Listener[T]).Stop()
	}
	publisher, err := PublisherOf[T](s)
	if err != nil {
		return err
	}
	listener := NewListener[T](publisher, handler)
	s.mux.Lock()
	s.typedListeners[key] = listener
	listener.Start()
	s.mux.Unlock()
	return nil
}

// PublisherOf returns the publisher for the payload type, creating its
// queue on first use.
func PublisherOf[T any](s *Service) (*Publisher[T], error) {
	key := keyOf[T]()
	s.mux.RLock()
	existing, ok := s.typedPublishers[key]
	s.mux.RUnlock()
	if ok {
		return existing.(*Publisher[T]), nil
	}
	queue, err := QueueOf[Event[T]](s, key.String())
	if err != nil {
		return nil, err
	}
	publisher := NewPublisher[T](queue)
	publisher.anyQueue = s.publisher.queue
	s.mux.Lock()
	s.typedPublishers[key] = publisher
	s.mux.Unlock()
	return publisher, nil
}
