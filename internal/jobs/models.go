package jobs

import (
	"errors"
	"fmt"
	"time"

	"lipsync/internal/services"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// IsTerminal reports whether the status can no longer change.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// AllStatuses lists every job status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCanceled}
}

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, bool) {
	for _, status := range AllStatuses() {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

// StageStatus is the state of one stage within a job.
type StageStatus string

const (
	StageWaiting    StageStatus = "waiting"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageError      StageStatus = "error"
)

// StageName identifies a pipeline stage.
type StageName string

const (
	StageScript      StageName = "script"
	StageAudio       StageName = "audio"
	StageVideoSelect StageName = "videoSelect"
	StageLipsync     StageName = "lipsync"
	StagePublish     StageName = "publish"
)

// StageOrder is the fixed pipeline plan shared by every job.
func StageOrder() []StageName {
	return []StageName{StageScript, StageAudio, StageVideoSelect, StageLipsync, StagePublish}
}

// Settings are the requester-supplied options of a job.
type Settings struct {
	ChannelName string `json:"channelName"`
	TitleFormat string `json:"titleFormat"`
}

// StageFailure records why a stage ended in error.
type StageFailure struct {
	Code    services.Code `json:"code"`
	Message string        `json:"message"`
}

// StageRecord is the persisted state of a single stage.
type StageRecord struct {
	Name       StageName   `json:"name"`
	Status     StageStatus `json:"status"`
	Progress   int         `json:"progress"`
	Attempt    int         `json:"attempt"`
	Error      *StageFailure `json:"error,omitempty"`
	Output     string      `json:"output,omitempty"`
	URL        string      `json:"url,omitempty"`
	ExternalID string      `json:"externalId,omitempty"`
	StartedAt  *time.Time  `json:"startedAt,omitempty"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
}

// Result is the publish outcome of a completed job.
type Result struct {
	ArtifactID string `json:"artifactId"`
	URL        string `json:"url"`
	ExternalID string `json:"externalId"`
}

// Job is the persisted record of one submission.
type Job struct {
	Seq             int64
	ID              string
	InputArtifact   string
	DocumentName    string
	Settings        Settings
	Stages          []StageRecord
	Status          Status
	CancelRequested bool
	Owner           string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Result          *Result
}

// New builds a queued job with every stage waiting.
func New(id, inputArtifact, documentName string, settings Settings, now time.Time) *Job {
	order := StageOrder()
	stages := make([]StageRecord, len(order))
	for i, name := range order {
		stages[i] = StageRecord{Name: name, Status: StageWaiting}
	}
	now = now.UTC()
	return &Job{
		ID:            id,
		InputArtifact: inputArtifact,
		DocumentName:  documentName,
		Settings:      settings,
		Stages:        stages,
		Status:        StatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Stages = make([]StageRecord, len(j.Stages))
	for i, stage := range j.Stages {
		copied := stage
		if stage.Error != nil {
			errCopy := *stage.Error
			copied.Error = &errCopy
		}
		if stage.StartedAt != nil {
			ts := *stage.StartedAt
			copied.StartedAt = &ts
		}
		if stage.FinishedAt != nil {
			ts := *stage.FinishedAt
			copied.FinishedAt = &ts
		}
		out.Stages[i] = copied
	}
	if j.Result != nil {
		result := *j.Result
		out.Result = &result
	}
	return &out
}

// IsTerminal reports whether the job reached a final status.
func (j *Job) IsTerminal() bool {
	return j != nil && j.Status.IsTerminal()
}

// StageIndex returns the position of the named stage or -1.
func (j *Job) StageIndex(name StageName) int {
	for i, stage := range j.Stages {
		if stage.Name == name {
			return i
		}
	}
	return -1
}

// NextStage returns the index of the first stage that is not completed, or -1
// when every stage completed.
func (j *Job) NextStage() int {
	for i, stage := range j.Stages {
		if stage.Status != StageCompleted {
			return i
		}
	}
	return -1
}

// Outputs maps completed stage names to their output artifact ids.
func (j *Job) Outputs() map[StageName]string {
	out := make(map[StageName]string, len(j.Stages))
	for _, stage := range j.Stages {
		if stage.Status == StageCompleted && stage.Output != "" {
			out[stage.Name] = stage.Output
		}
	}
	return out
}

// CheckInvariants verifies the structural rules every persisted job obeys.
func (j *Job) CheckInvariants() error {
	order := StageOrder()
	if len(j.Stages) != len(order) {
		return fmt.Errorf("job %s: expected %d stages, got %d", j.ID, len(order), len(j.Stages))
	}
	processing := 0
	sawIncomplete := false
	for i, stage := range j.Stages {
		if stage.Name != order[i] {
			return fmt.Errorf("job %s: stage %d is %q, want %q", j.ID, i, stage.Name, order[i])
		}
		if stage.Progress < 0 || stage.Progress > 100 {
			return fmt.Errorf("job %s: stage %s progress %d out of range", j.ID, stage.Name, stage.Progress)
		}
		switch stage.Status {
		case StageProcessing:
			processing++
		case StageCompleted:
			if sawIncomplete {
				return fmt.Errorf("job %s: stage %s completed after an incomplete stage", j.ID, stage.Name)
			}
		case StageError:
			if stage.Error == nil {
				return fmt.Errorf("job %s: stage %s in error without detail", j.ID, stage.Name)
			}
		}
		if stage.Status != StageCompleted {
			sawIncomplete = true
		}
		if stage.Status != StageError && stage.Error != nil {
			return fmt.Errorf("job %s: stage %s carries an error while %s", j.ID, stage.Name, stage.Status)
		}
	}
	if processing > 1 {
		return fmt.Errorf("job %s: %d stages processing", j.ID, processing)
	}
	if processing == 1 && j.Status != StatusRunning {
		return fmt.Errorf("job %s: status %s with a processing stage", j.ID, j.Status)
	}
	// Between two stages a running job has no processing stage but stays owned.
	if j.Status == StatusRunning && processing == 0 && j.Owner == "" {
		return fmt.Errorf("job %s: running without a processing stage or owner", j.ID)
	}
	if j.Status == StatusCompleted {
		if j.NextStage() != -1 {
			return fmt.Errorf("job %s: completed with incomplete stages", j.ID)
		}
		if j.Result == nil {
			return fmt.Errorf("job %s: completed without result", j.ID)
		}
	}
	if j.Result != nil && j.Status != StatusCompleted {
		return fmt.Errorf("job %s: result present while %s", j.ID, j.Status)
	}
	return nil
}

// ErrNoChange may be returned from a Mutate callback to skip the write.
var ErrNoChange = errors.New("no change")
