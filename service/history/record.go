package history

import (
	"time"

	"github.com/uptrace/bun"
)

// RunRecord is the persisted summary of a finished run.
type RunRecord struct {
	bun.BaseModel `bun:"table:runs,alias:r"`

	ID         string     `bun:"id,pk"`
	Name       string     `bun:"name"`
	Source     string     `bun:"source"`
	State      string     `bun:"state"`
	ErrorCount int        `bun:"error_count"`
	CreatedAt  time.Time  `bun:"created_at"`
	FinishedAt *time.Time `bun:"finished_at"`
	DurationMs int64      `bun:"duration_ms"`
}

// JobRecord is the persisted outcome of a single job execution within a run.
// Matrix legs produce one record each, with Combination carrying the axis
// values as JSON.
type JobRecord struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID          int64  `bun:"id,pk,autoincrement"`
	RunID       string `bun:"run_id"`
	JobID       string `bun:"job_id"`
	State       string `bun:"state"`
	Attempts    int    `bun:"attempts"`
	DurationMs  int64  `bun:"duration_ms"`
	Error       string `bun:"error"`
	Combination string `bun:"combination"`
}
