package jobs

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const jobColumns = "seq, id, input_artifact, document_name, channel_name, title_format, status, stages_json, cancel_requested, owner, version, result_artifact, result_url, result_external_id, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job             Job
		statusStr       string
		stagesJSON      string
		cancelRequested int64
		resultArtifact  sql.NullString
		resultURL       sql.NullString
		resultExternal  sql.NullString
		createdRaw      string
		updatedRaw      string
	)
	if err := scanner.Scan(
		&job.Seq,
		&job.ID,
		&job.InputArtifact,
		&job.DocumentName,
		&job.Settings.ChannelName,
		&job.Settings.TitleFormat,
		&statusStr,
		&stagesJSON,
		&cancelRequested,
		&job.Owner,
		&job.Version,
		&resultArtifact,
		&resultURL,
		&resultExternal,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job.Status = Status(statusStr)
	job.CancelRequested = cancelRequested != 0
	if err := json.Unmarshal([]byte(stagesJSON), &job.Stages); err != nil {
		return nil, fmt.Errorf("decode stages for job %s: %w", job.ID, err)
	}
	if resultArtifact.Valid && resultArtifact.String != "" {
		job.Result = &Result{
			ArtifactID: resultArtifact.String,
			URL:        resultURL.String,
			ExternalID: resultExternal.String,
		}
	}
	job.CreatedAt = parseTime(createdRaw)
	job.UpdatedAt = parseTime(updatedRaw)
	return &job, nil
}

func encodeStages(stages []StageRecord) (string, error) {
	data, err := json.Marshal(stages)
	if err != nil {
		return "", fmt.Errorf("encode stages: %w", err)
	}
	return string(data), nil
}

func resultColumns(result *Result) (any, any, any) {
	if result == nil {
		return nil, nil, nil
	}
	return nullableString(result.ArtifactID), nullableString(result.URL), nullableString(result.ExternalID)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}
