package event

import (
	"context"
	"errors"
	"time"

	"github.com/gantryci/gantry/internal/logging"
)

// emptyPollDelay paces the loop on queue vendors whose Consume returns
// immediately when empty.
const emptyPollDelay = 50 * time.Millisecond

// Listener drains a publisher's queue in the background, invoking the
// handler for every event.
type Listener[T any] struct {
	publisher *Publisher[T]
	handler   func(*Event[T])
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewListener creates a stopped listener; call Start to begin draining.
func NewListener[T any](publisher *Publisher[T], handler func(*Event[T])) *Listener[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener[T]{
		publisher: publisher,
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Stop terminates the drain loop.
func (l *Listener[T]) Stop() {
	l.cancel()
}

// Start launches the drain loop.
func (l *Listener[T]) Start() {
	go func() {
		for {
			select {
			case <-l.ctx.Done():
				return
			default:
				event, err := l.publisher.Consume(l.ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					logging.Errorf("event listener: consume failed: %v", err)
					continue
				}
				if event == nil {
					time.Sleep(emptyPollDelay)
					continue
				}
				l.handler(event)
			}
		}
	}()
}
