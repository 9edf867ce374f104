package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lipsync/internal/services"
)

// mutateAttempts bounds how often Mutate reloads after losing a CAS race.
const mutateAttempts = 16

// Create inserts a new job. The job's Seq, Version, and timestamps are filled in.
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return services.Wrap(services.ErrValidation, "", "create job", "job id required", nil)
	}
	stagesJSON, err := encodeStages(job.Stages)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	resultArtifact, resultURL, resultExternal := resultColumns(job.Result)

	res, err := s.exec(ctx,
		`INSERT INTO jobs (id, input_artifact, document_name, channel_name, title_format, status, stages_json,
            cancel_requested, owner, version, result_artifact, result_url, result_external_id, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?)`,
		job.ID,
		job.InputArtifact,
		job.DocumentName,
		job.Settings.ChannelName,
		job.Settings.TitleFormat,
		string(job.Status),
		stagesJSON,
		boolToInt(job.CancelRequested),
		job.Owner,
		resultArtifact,
		resultURL,
		resultExternal,
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read job seq: %w", err)
	}
	job.Seq = seq
	job.Version = 1
	return nil
}

// Get fetches a job by id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// CompareAndSwap replaces the mutable state of a job when its stored version
// equals expectedVersion. On success the returned copy carries the new
// version and updated timestamp.
func (s *Store) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, job *Job) (*Job, error) {
	if job == nil {
		return nil, services.Wrap(services.ErrValidation, "", "compare and swap", "job required", nil)
	}
	stagesJSON, err := encodeStages(job.Stages)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if !now.After(job.UpdatedAt) {
		now = job.UpdatedAt.Add(time.Microsecond)
	}
	resultArtifact, resultURL, resultExternal := resultColumns(job.Result)

	res, err := s.exec(ctx,
		`UPDATE jobs
         SET status = ?, stages_json = ?, cancel_requested = ?, owner = ?,
             result_artifact = ?, result_url = ?, result_external_id = ?,
             updated_at = ?, version = version + 1
         WHERE id = ? AND version = ?`,
		string(job.Status),
		stagesJSON,
		boolToInt(job.CancelRequested),
		job.Owner,
		resultArtifact,
		resultURL,
		resultExternal,
		formatTime(now),
		id,
		expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update job rows: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, services.Wrap(services.ErrConflict, "", "compare and swap",
			fmt.Sprintf("job %s is no longer at version %d", id, expectedVersion), nil)
	}

	updated := job.Clone()
	updated.ID = id
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = now
	return updated, nil
}

// Mutate loads the job, applies fn to a copy, and writes it back with
// CompareAndSwap, reloading and reapplying fn when another writer won the
// race. fn may return ErrNoChange to leave the record untouched.
func (s *Store) Mutate(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	for attempt := 0; attempt < mutateAttempts; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, ErrNoChange) {
				return current, nil
			}
			return nil, err
		}
		updated, err := s.CompareAndSwap(ctx, id, current.Version, next)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, services.ErrConflict) {
			return nil, err
		}
		if ctxErr := ensureContext(ctx).Err(); ctxErr != nil {
			return nil, ctxErr
		}
	}
	return nil, services.Wrap(services.ErrConflict, "", "mutate job",
		fmt.Sprintf("job %s changed concurrently %d times", id, mutateAttempts), nil)
}

// NextQueued returns the oldest queued, unowned job or nil when none is waiting.
func (s *Store) NextQueued(ctx context.Context) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE status = ? AND owner = '' ORDER BY seq LIMIT 1",
		string(StatusQueued),
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("next queued job: %w", err)
	}
	return job, nil
}

// ClaimNext assigns the oldest queued job to owner. It returns nil when the
// queue is empty. Losing a claim race to another worker moves on to the next
// candidate.
func (s *Store) ClaimNext(ctx context.Context, owner string) (*Job, error) {
	for attempt := 0; attempt < mutateAttempts; attempt++ {
		candidate, err := s.NextQueued(ctx)
		if err != nil || candidate == nil {
			return nil, err
		}
		claimed := candidate.Clone()
		claimed.Owner = owner
		updated, err := s.CompareAndSwap(ctx, candidate.ID, candidate.Version, claimed)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, services.ErrConflict) && !errors.Is(err, services.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// List returns jobs in submission order, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + jobColumns + " FROM jobs"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// FindByArtifact returns the most recent job that consumed or produced the
// artifact, or nil when no job references it.
func (s *Store) FindByArtifact(ctx context.Context, artifactID string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+` FROM jobs
         WHERE input_artifact = ? OR result_artifact = ?
            OR EXISTS (SELECT 1 FROM json_each(jobs.stages_json) WHERE json_extract(json_each.value, '$.output') = ?)
         ORDER BY seq DESC LIMIT 1`,
		artifactID, artifactID, artifactID,
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find job by artifact: %w", err)
	}
	return job, nil
}

// Counts returns the number of jobs per status.
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

func notFound(id string) error {
	return services.Wrap(services.ErrNotFound, "", "job store", fmt.Sprintf("job %q not found", id), nil)
}
