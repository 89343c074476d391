package event

import (
	"time"

	"github.com/gantryci/gantry/internal/clock"
)

// Context identifies what an event is about: the run, the job within
// it, and the action the job step invoked.
type Context struct {
	RunID       string `json:"runID"`
	JobID       string `json:"jobID"`
	EventType   string `json:"eventType"`
	Service     string `json:"service"`
	Method      string `json:"method"`
	TimeTakenMs int    `json:"timeTakenMs"`
}

// Event carries a typed payload together with its context.
type Event[T any] struct {
	Context   *Context               `json:"context"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata"`
	Data      T                      `json:"data"`
}

// NewEvent creates an event for the given context and payload.
func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: clock.Now(),
		Metadata:  make(map[string]interface{}),
		Data:      data,
	}
}
