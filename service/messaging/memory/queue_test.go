package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stepPayload struct {
	RunID string
	JobID string
	Try   int
}

func TestQueue(t *testing.T) {
	config := DefaultConfig()
	config.RetryDelay = 10 * time.Millisecond
	queue := NewQueue[stepPayload](config)

	ctx := context.Background()
	payload := stepPayload{RunID: "run-1", JobID: "build/test", Try: 1}

	err := queue.Publish(ctx, &payload)
	assert.NoError(t, err)
	assert.Equal(t, 1, queue.Size())

	message, err := queue.Consume(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, message)
	assert.Equal(t, 0, queue.Size())

	data := message.T()
	assert.Equal(t, payload.RunID, data.RunID)
	assert.Equal(t, payload.JobID, data.JobID)
	assert.Equal(t, payload.Try, data.Try)

	assert.NoError(t, message.Ack())

	// A second ack is rejected.
	assert.Error(t, message.Ack())
}

func TestQueue_Retries(t *testing.T) {
	config := DefaultConfig()
	config.MaxRetries = 2
	config.RetryDelay = 10 * time.Millisecond
	queue := NewQueue[stepPayload](config)

	ctx := context.Background()
	payload := stepPayload{RunID: "run-2", JobID: "lint"}

	assert.NoError(t, queue.Publish(ctx, &payload))

	// Nack twice, the message keeps coming back.
	for attempt := 0; attempt < 2; attempt++ {
		message, err := queue.Consume(ctx)
		assert.NoError(t, err)
		assert.NotNil(t, message)
		assert.NoError(t, message.Nack(fmt.Errorf("worker lost")))
		time.Sleep(20 * time.Millisecond)
	}

	// Third failure exceeds MaxRetries and dead-letters the message.
	message, err := queue.Consume(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, message)
	assert.NoError(t, message.Nack(fmt.Errorf("worker lost")))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, queue.Size())
	assert.Equal(t, 1, queue.DLQSize())
}

func TestQueue_Concurrency(t *testing.T) {
	config := DefaultConfig()
	config.RetryDelay = 10 * time.Millisecond
	queue := NewQueue[stepPayload](config)

	ctx := context.Background()
	producers := 10
	messagesPerProducer := 10

	var wg sync.WaitGroup
	wg.Add(producers * 2)

	var consumedMu sync.Mutex
	consumed := 0

	for i := 0; i < producers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < messagesPerProducer; j++ {
				message, err := queue.Consume(ctx)
				if err != nil {
					t.Errorf("consume: %v", err)
					continue
				}
				assert.NoError(t, message.Ack())
				consumedMu.Lock()
				consumed++
				consumedMu.Unlock()
			}
		}()
	}

	for i := 0; i < producers; i++ {
		go func(producer int) {
			defer wg.Done()
			for j := 0; j < messagesPerProducer; j++ {
				payload := stepPayload{
					RunID: fmt.Sprintf("run-%d", producer),
					JobID: fmt.Sprintf("job-%d", j),
					Try:   j,
				}
				if err := queue.Publish(ctx, &payload); err != nil {
					t.Errorf("publish: %v", err)
				}
				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("test timed out")
	}

	assert.Equal(t, producers*messagesPerProducer, consumed)
	assert.Equal(t, 0, queue.Size())
}

func TestQueue_ContextCancellation(t *testing.T) {
	queue := NewQueue[stepPayload](DefaultConfig())

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	payload := stepPayload{RunID: "run-3"}
	assert.Error(t, queue.Publish(cancelled, &payload))

	timed, cancelTimed := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelTimed()
	_, err := queue.Consume(timed)
	assert.Error(t, err)

	// The queue stays usable after a cancelled call.
	ctx := context.Background()
	assert.NoError(t, queue.Publish(ctx, &payload))
	message, err := queue.Consume(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, message)
}
