package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of a failed response body is kept for logs.
const maxErrorBody = 2048

// HTTPStatusError captures a non-2xx collaborator response.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// RetryableStatus reports whether an HTTP status indicates a transient
// collaborator condition (timeouts, throttling, server errors).
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// ClassifyHTTP tags an HTTP round-trip failure. Network-level errors and
// retryable statuses are transient; everything else is fatal.
func ClassifyHTTP(stage, operation string, resp *http.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
			return Wrap(ErrTransient, stage, operation, "collaborator unreachable", err)
		}
		return Wrap(ErrTransient, stage, operation, "request failed", err)
	}
	if resp == nil {
		return Wrap(ErrFatal, stage, operation, "empty response", nil)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	if RetryableStatus(resp.StatusCode) {
		return Wrap(ErrTransient, stage, operation, fmt.Sprintf("collaborator returned %d", resp.StatusCode), statusErr)
	}
	return Wrap(ErrFatal, stage, operation, fmt.Sprintf("collaborator rejected request with %d", resp.StatusCode), statusErr)
}
