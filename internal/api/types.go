package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobStatusView describes a job in a transport-friendly format.
type JobStatusView struct {
	JobID         string      `json:"jobId"`
	Status        string      `json:"status"`
	DocumentName  string      `json:"documentName"`
	InputArtifact string      `json:"inputArtifactId"`
	ChannelName   string      `json:"channelName"`
	TitleFormat   string      `json:"titleFormat"`
	Cancel        bool        `json:"cancelRequested,omitempty"`
	Stages        []StageView `json:"stages"`
	Result        *ResultView `json:"result,omitempty"`
	CreatedAt     string      `json:"createdAt,omitempty"`
	UpdatedAt     string      `json:"updatedAt,omitempty"`
}

// StageView captures one stage of a job.
type StageView struct {
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Progress   int        `json:"progress"`
	Attempt    int        `json:"attempt"`
	Error      *ErrorBody `json:"error,omitempty"`
	Output     string     `json:"output,omitempty"`
	StartedAt  string     `json:"startedAt,omitempty"`
	FinishedAt string     `json:"finishedAt,omitempty"`
}

// ResultView points at the published output. ArtifactID is the publish
// receipt; DownloadURL serves the rendered video.
type ResultView struct {
	ArtifactID    string `json:"artifactId"`
	URL           string `json:"url,omitempty"`
	ExternalID    string `json:"externalId,omitempty"`
	VideoArtifact string `json:"videoArtifactId,omitempty"`
	DownloadURL   string `json:"downloadUrl,omitempty"`
	ReceiptURL    string `json:"receiptUrl"`
}

// SubmitResponse is returned when a document is accepted.
type SubmitResponse struct {
	JobID string `json:"jobId"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []JobStatusView `json:"jobs"`
}

// StageHealth mirrors readiness reporting for stage collaborators.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse summarizes the daemon's readiness.
type HealthResponse struct {
	Running bool           `json:"running"`
	Ready   bool           `json:"ready"`
	Stages  []StageHealth  `json:"stages"`
	Counts  map[string]int `json:"counts"`
}

// ErrorBody carries a taxonomy code and a client-safe message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON envelope of every error reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
