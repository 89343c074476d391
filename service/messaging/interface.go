// Package messaging defines the queue contract the engine moves step
// executions through. Implementations only need at-least-once delivery;
// consumers acknowledge or reject every message they take.
package messaging

import (
	"context"
)

// Vendor identifies a queue implementation.
type Vendor string

const (
	// VendorMemory is the in-process channel backed queue.
	VendorMemory Vendor = "memory"

	// VendorFS is the filesystem backed queue, messages survive restarts.
	VendorFS Vendor = "fs"
)

// Queue is an abstract message queue for any payload type.
type Queue[T any] interface {
	// Publish adds a new message with the payload to the queue.
	Publish(ctx context.Context, t *T) error

	// Consume retrieves a single message, blocking or returning
	// (nil, nil) when empty is implementation specific.
	Consume(ctx context.Context) (Message[T], error)
}

// Message is a single message taken from a queue.
type Message[T any] interface {
	// T returns the payload of this message.
	T() *T

	// Ack acknowledges successful processing of this message.
	Ack() error

	// Nack reports failed processing; the queue retries or dead-letters
	// the message according to its configuration.
	Nack(err error) error
}
