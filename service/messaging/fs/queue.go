// Package fs implements a filesystem backed queue. Messages live as
// JSON files moving between state directories, so queued step
// executions survive an engine restart.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gantryci/gantry/internal/clock"
	"github.com/gantryci/gantry/internal/idgen"
	"github.com/gantryci/gantry/service/messaging"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/storage"
)

// MessageState tracks where a message sits in its lifecycle.
type MessageState string

const (
	// MessageStatePending marks a message waiting to be processed.
	MessageStatePending MessageState = "pending"

	// MessageStateProcessing marks a message currently held by a consumer.
	MessageStateProcessing MessageState = "processing"

	// MessageStateCompleted marks a successfully processed message.
	MessageStateCompleted MessageState = "completed"

	// MessageStateFailed marks a message awaiting a retry.
	MessageStateFailed MessageState = "failed"
)

// Message implements messaging.Message for the filesystem queue.
type Message[T any] struct {
	ID        string       `json:"id"`
	Data      T            `json:"data"`
	State     MessageState `json:"state"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Retries   int          `json:"retries"`

	queue     *Queue[T]
	processed bool
	mu        sync.Mutex
}

// T returns the message payload.
func (m *Message[T]) T() *T {
	return &m.Data
}

// Ack acknowledges the message and moves it to the completed directory.
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message already processed")
	}
	m.processed = true
	m.State = MessageStateCompleted
	m.UpdatedAt = clock.Now()
	return m.queue.completeMessage(context.Background(), m)
}

// Nack records the failure and schedules a retry or dead-letters the
// message when retries are exhausted.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message already processed")
	}
	m.processed = true
	m.State = MessageStateFailed
	if err != nil {
		m.Error = err.Error()
	}
	m.Retries++
	m.UpdatedAt = clock.Now()
	return m.queue.failMessage(context.Background(), m)
}

// Config holds the filesystem queue settings.
type Config struct {
	BasePath   string        // base directory for queue files
	MaxRetries int           // maximum number of retry attempts
	RetryDelay time.Duration // delay between retries
}

// DefaultConfig returns a local queue rooted under /tmp.
func DefaultConfig() Config {
	return Config{
		BasePath:   "/tmp/gantry/queue",
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// Queue implements a filesystem backed messaging.Queue.
type Queue[T any] struct {
	fs            afs.Service
	config        Config
	pendingDir    string
	processingDir string
	completedDir  string
	failedDir     string
	dlqDir        string
	mu            sync.Mutex
}

// NewQueue creates the queue and its state directories.
func NewQueue[T any](fs afs.Service, config Config) (*Queue[T], error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	q := &Queue[T]{
		fs:            fs,
		config:        config,
		pendingDir:    path.Join(config.BasePath, "pending"),
		processingDir: path.Join(config.BasePath, "processing"),
		completedDir:  path.Join(config.BasePath, "completed"),
		failedDir:     path.Join(config.BasePath, "failed"),
		dlqDir:        path.Join(config.BasePath, "dlq"),
	}

	ctx := context.Background()
	for _, dir := range []string{q.pendingDir, q.processingDir, q.completedDir, q.failedDir, q.dlqDir} {
		if exists, _ := fs.Exists(ctx, dir); exists {
			continue
		}
		if err := fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return q, nil
}

// Publish writes a new message into the pending directory.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	now := clock.Now()
	message := &Message[T]{
		ID:        idgen.New(),
		Data:      *t,
		State:     MessageStatePending,
		CreatedAt: now,
		UpdatedAt: now,
		queue:     q,
	}
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return q.write(ctx, path.Join(q.pendingDir, fileName(message.ID)), data)
}

// Consume takes the oldest message, preferring failed messages that are
// due for a retry. It returns (nil, nil) when the queue is empty.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	retry, err := q.takeFailed(ctx)
	if err != nil {
		return nil, err
	}
	if retry != nil {
		return retry, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	pending, err := q.listMessages(ctx, q.pendingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	object := pending[0]
	message, err := q.read(ctx, object.URL())
	if err != nil {
		// A file that cannot be decoded is parked in failed so it stops
		// blocking the queue head.
		_ = q.fs.Move(ctx, object.URL(), path.Join(q.failedDir, "invalid-"+object.Name()))
		return nil, err
	}
	if err := q.moveToProcessing(ctx, message, object); err != nil {
		return nil, err
	}
	return message, nil
}

// takeFailed picks up a failed message eligible for retry, moving
// exhausted ones to the DLQ.
func (q *Queue[T]) takeFailed(ctx context.Context) (*Message[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	failed, err := q.listMessages(ctx, q.failedDir, option.NewRecursive(false))
	if err != nil {
		return nil, fmt.Errorf("failed to list failed messages: %w", err)
	}
	if len(failed) == 0 {
		return nil, nil
	}

	object := failed[0]
	message, err := q.read(ctx, object.URL())
	if err != nil {
		_ = q.fs.Move(ctx, object.URL(), path.Join(q.dlqDir, "invalid-"+object.Name()))
		return nil, err
	}
	if message.Retries > q.config.MaxRetries {
		if err := q.fs.Move(ctx, object.URL(), path.Join(q.dlqDir, object.Name())); err != nil {
			return nil, fmt.Errorf("failed to move message to DLQ: %w", err)
		}
		return nil, nil
	}
	if err := q.moveToProcessing(ctx, message, object); err != nil {
		return nil, err
	}
	return message, nil
}

// moveToProcessing rewrites the message under processing/ and removes
// the source object. Write-then-delete keeps the message durable at
// every point of the transition.
func (q *Queue[T]) moveToProcessing(ctx context.Context, message *Message[T], object storage.Object) error {
	message.State = MessageStateProcessing
	message.UpdatedAt = clock.Now()
	message.queue = q

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := q.write(ctx, path.Join(q.processingDir, object.Name()), data); err != nil {
		return fmt.Errorf("failed to move message to processing directory: %w", err)
	}
	if err := q.fs.Delete(ctx, object.URL()); err != nil {
		return fmt.Errorf("failed to delete message source: %w", err)
	}
	return nil
}

// completeMessage moves a message from processing to completed.
func (q *Queue[T]) completeMessage(ctx context.Context, m *Message[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal completed message: %w", err)
	}
	name := fileName(m.ID)
	if err := q.write(ctx, path.Join(q.completedDir, name), data); err != nil {
		return fmt.Errorf("failed to write completed message: %w", err)
	}
	return q.removeProcessing(ctx, name)
}

// failMessage parks a message for retry, or dead-letters it once the
// retry budget is spent.
func (q *Queue[T]) failMessage(ctx context.Context, m *Message[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal failed message: %w", err)
	}
	name := fileName(m.ID)
	target := path.Join(q.failedDir, name)
	if m.Retries > q.config.MaxRetries {
		target = path.Join(q.dlqDir, name)
	}
	if err := q.write(ctx, target, data); err != nil {
		return fmt.Errorf("failed to write failed message: %w", err)
	}
	return q.removeProcessing(ctx, name)
}

func (q *Queue[T]) removeProcessing(ctx context.Context, name string) error {
	processing := path.Join(q.processingDir, name)
	if exists, _ := q.fs.Exists(ctx, processing); exists {
		if err := q.fs.Delete(ctx, processing); err != nil {
			return fmt.Errorf("failed to delete message from processing directory: %w", err)
		}
	}
	return nil
}

// listMessages returns the JSON message files in a directory, oldest
// first by name.
func (q *Queue[T]) listMessages(ctx context.Context, dir string, options ...storage.Option) ([]storage.Object, error) {
	objects, err := q.fs.List(ctx, dir, options...)
	if err != nil {
		return nil, err
	}
	var files []storage.Object
	for _, object := range objects {
		if !object.IsDir() && strings.HasSuffix(object.Name(), ".json") {
			files = append(files, object)
		}
	}
	return files, nil
}

func (q *Queue[T]) write(ctx context.Context, location string, data []byte) error {
	return q.fs.Upload(ctx, location, file.DefaultFileOsMode, bytes.NewBuffer(data))
}

func (q *Queue[T]) read(ctx context.Context, url string) (*Message[T], error) {
	data, err := q.fs.DownloadWithURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to read message %s: %w", url, err)
	}
	var message Message[T]
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message %s: %w", url, err)
	}
	return &message, nil
}

func fileName(id string) string {
	return id + ".json"
}

var _ messaging.Queue[any] = (*Queue[any])(nil)
