// Package history records finished runs and their per-job outcomes in a
// SQLite database so past results survive process restarts.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gantryci/gantry/runtime/execution"
	"github.com/gantryci/gantry/service/dao"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"
)

// sqlOpenFunc allows tests to inject an open failure.
var sqlOpenFunc = sql.Open

// Service persists run summaries and job results. It implements the
// scheduler's Recorder contract; recording failures are reported to the
// caller, which logs them without failing the run.
type Service struct {
	db         *bun.DB
	executions dao.Service[string, execution.Execution]
}

// Option customizes the history service.
type Option func(*Service)

// WithExecutionSource supplies the execution store used to materialize
// per-job records when a run is recorded. Without it only the run summary
// row is written.
func WithExecutionSource(executions dao.Service[string, execution.Execution]) Option {
	return func(s *Service) {
		s.executions = executions
	}
}

// Open connects to the SQLite database at dsn and ensures the schema exists.
func Open(dsn string, options ...Option) (*Service, error) {
	sqlDB, err := sqlOpenFunc("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %v: %w", dsn, err)
	}
	service := &Service{db: bun.NewDB(sqlDB, sqlitedialect.New())}
	for _, option := range options {
		option(service)
	}
	if err := service.ensureSchema(context.Background()); err != nil {
		_ = service.db.Close()
		return nil, err
	}
	return service, nil
}

func (s *Service) ensureSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*RunRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*JobRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Service) Close() error {
	return s.db.Close()
}

// RecordRun writes the run summary and one job record per execution that
// belongs to the run. Recording the same run twice replaces its rows.
func (s *Service) RecordRun(ctx context.Context, run *execution.Run) error {
	if run == nil {
		return fmt.Errorf("history: run was nil")
	}
	record := runRecordOf(run)
	jobs, err := s.jobRecordsOf(ctx, run)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NewInsert().Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("state = EXCLUDED.state").
		Set("error_count = EXCLUDED.error_count").
		Set("finished_at = EXCLUDED.finished_at").
		Set("duration_ms = EXCLUDED.duration_ms").
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to record run %v: %w", run.ID, err)
	}
	if _, err := tx.NewDelete().Model((*JobRecord)(nil)).
		Where("run_id = ?", run.ID).Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear job records for %v: %w", run.ID, err)
	}
	if len(jobs) > 0 {
		if _, err := tx.NewInsert().Model(&jobs).Exec(ctx); err != nil {
			return fmt.Errorf("failed to record job results for %v: %w", run.ID, err)
		}
	}
	return tx.Commit()
}

func runRecordOf(run *execution.Run) *RunRecord {
	record := &RunRecord{
		ID:         run.ID,
		Name:       run.Name,
		State:      run.GetState(),
		ErrorCount: len(run.Errors),
		CreatedAt:  run.CreatedAt,
		FinishedAt: run.FinishedAt,
	}
	if pipeline := run.Pipeline; pipeline != nil && pipeline.Source != nil {
		record.Source = pipeline.Source.URL
	}
	if run.FinishedAt != nil {
		record.DurationMs = run.FinishedAt.Sub(run.CreatedAt).Milliseconds()
	}
	return record
}

func (s *Service) jobRecordsOf(ctx context.Context, run *execution.Run) ([]JobRecord, error) {
	if s.executions == nil {
		return nil, nil
	}
	executions, err := s.executions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions for %v: %w", run.ID, err)
	}
	var records []JobRecord
	for _, anExecution := range executions {
		if anExecution.RunID != run.ID {
			continue
		}
		records = append(records, jobRecordOf(anExecution))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].JobID < records[j].JobID })
	return records, nil
}

func jobRecordOf(anExecution *execution.Execution) JobRecord {
	record := JobRecord{
		RunID:    anExecution.RunID,
		JobID:    anExecution.JobID,
		State:    string(anExecution.State),
		Attempts: anExecution.Attempts,
		Error:    anExecution.Error,
	}
	if anExecution.StartedAt != nil && anExecution.CompletedAt != nil {
		record.DurationMs = anExecution.CompletedAt.Sub(*anExecution.StartedAt).Milliseconds()
	}
	if len(anExecution.Combination) > 0 {
		if encoded, err := json.Marshal(anExecution.Combination); err == nil {
			record.Combination = string(encoded)
		}
	}
	return record
}

// Recent returns the most recently created runs, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []*RunRecord
	err := s.db.NewSelect().Model(&records).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	return records, err
}

// ByPipeline returns runs of the named pipeline, newest first.
func (s *Service) ByPipeline(ctx context.Context, name string, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []*RunRecord
	err := s.db.NewSelect().Model(&records).
		Where("name = ?", name).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	return records, err
}

// JobResults returns the per-job outcomes recorded for a run.
func (s *Service) JobResults(ctx context.Context, runID string) ([]*JobRecord, error) {
	var records []*JobRecord
	err := s.db.NewSelect().Model(&records).
		Where("run_id = ?", runID).
		Order("job_id ASC").
		Scan(ctx)
	return records, err
}
