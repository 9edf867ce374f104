package daemon

import (
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"lipsync/internal/api"
	"lipsync/internal/jobs"
	"lipsync/internal/services"
	"lipsync/internal/workflow"
)

// multipartMemory bounds the in-memory share of a parsed upload; the rest
// spills to temporary files.
const multipartMemory = 8 << 20

// multipartOverhead allows for form fields and part headers beyond the document.
const multipartOverhead = 1 << 20

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorBody(w, http.StatusRequestEntityTooLarge, string(services.CodeValidation),
				"document exceeds "+strconv.FormatInt(s.cfg.Upload.MaxBytes, 10)+" bytes")
			return
		}
		s.writeErrorBody(w, http.StatusBadRequest, string(services.CodeValidation), "expected multipart/form-data body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeErrorBody(w, http.StatusBadRequest, string(services.CodeValidation), "file field is required")
		return
	}
	defer file.Close()

	jobID, err := s.workflow.Submit(r.Context(), workflow.SubmitRequest{
		Document:     file,
		DocumentName: header.Filename,
		Settings: jobs.Settings{
			ChannelName: r.FormValue("channelName"),
			TitleFormat: r.FormValue("titleFormat"),
		},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+jobID)
	s.writeJSON(w, http.StatusAccepted, api.SubmitResponse{JobID: jobID})
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []jobs.Status
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := jobs.ParseStatus(part)
			if !ok {
				s.writeErrorBody(w, http.StatusBadRequest, string(services.CodeValidation), "unknown status "+strconv.Quote(part))
				return
			}
			statuses = append(statuses, status)
		}
	}
	views, err := s.workflow.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: views})
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	view, err := s.workflow.GetStatus(r.Context(), r.PathValue("jobId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	view, err := s.workflow.Cancel(r.Context(), r.PathValue("jobId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	download, err := s.workflow.OpenArtifact(r.Context(), r.PathValue("artifactId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer download.File.Close()

	w.Header().Set("Content-Type", download.Info.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": download.FileName}))
	http.ServeContent(w, r, download.FileName, download.Info.CreatedAt, download.File)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary := s.workflow.Status(r.Context())
	resp := api.HealthResponse{
		Running: s.daemon.running.Load() && summary.Running,
		Stages:  api.FromHealth(summary.StageHealth),
		Counts:  api.FromCounts(summary.Counts),
	}
	resp.Ready = resp.Running && summary.Ready()
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}
