package services_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"lipsync/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "audio", "synthesize", "tts unavailable", base)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"audio", "synthesize", "tts unavailable"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapNilMarkerIsFatal(t *testing.T) {
	err := services.Wrap(nil, "script", "generate", "odd", nil)
	if services.CodeOf(err) != services.CodeFatal {
		t.Fatalf("expected fatal code, got %s", services.CodeOf(err))
	}
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.Code
	}{
		{"nil", nil, ""},
		{"validation", services.Wrap(services.ErrValidation, "", "submit", "bad", nil), services.CodeValidation},
		{"transient", services.Wrap(services.ErrTransient, "audio", "", "", nil), services.CodeTransient},
		{"fatal", services.Wrap(services.ErrFatal, "lipsync", "", "", nil), services.CodeFatal},
		{"canceled", services.ErrCanceled, services.CodeCanceled},
		{"conflict", fmt.Errorf("cas: %w", services.ErrConflict), services.CodeConflict},
		{"not found", fmt.Errorf("get: %w", services.ErrNotFound), services.CodeNotFound},
		{"untagged", errors.New("mystery"), services.CodeFatal},
	}
	for _, tc := range cases {
		if got := services.CodeOf(tc.err); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestClassifyInvocationTimeoutIsTransient(t *testing.T) {
	err := services.ClassifyInvocation(context.Background(), "lipsync", fmt.Errorf("poll: %w", context.DeadlineExceeded))
	if !services.IsRetryable(err) {
		t.Fatalf("expected timeout to be retryable, got %v", err)
	}
}

func TestClassifyInvocationKeepsAdapterClassification(t *testing.T) {
	fatal := services.Wrap(services.ErrFatal, "script", "extract", "corrupt", context.DeadlineExceeded)
	if got := services.ClassifyInvocation(context.Background(), "script", fatal); services.IsRetryable(got) {
		t.Fatalf("fatal classification must not be upgraded to transient: %v", got)
	}
}

func TestClassifyInvocationParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := services.ClassifyInvocation(ctx, "audio", fmt.Errorf("send: %w", context.Canceled))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to pass through, got %v", err)
	}
	if services.IsRetryable(err) {
		t.Fatal("shutdown must not be retryable")
	}
}

func TestMessageStripsCause(t *testing.T) {
	err := services.Wrap(services.ErrFatal, "publish", "upload", "platform rejected video", errors.New("internal trace detail"))
	msg := services.Message(err)
	if msg != "publish: upload: platform rejected video" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestClassifyHTTP(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusRequestTimeout, true},
		{http.StatusBadRequest, false},
		{http.StatusUnprocessableEntity, false},
	}
	for _, tc := range cases {
		resp := &http.Response{StatusCode: tc.status, Body: http.NoBody}
		err := services.ClassifyHTTP("audio", "synthesize", resp, nil)
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if services.IsRetryable(err) != tc.retryable {
			t.Fatalf("status %d: retryable=%v want %v", tc.status, services.IsRetryable(err), tc.retryable)
		}
	}
	if err := services.ClassifyHTTP("audio", "synthesize", &http.Response{StatusCode: 200, Body: http.NoBody}, nil); err != nil {
		t.Fatalf("expected nil for 200, got %v", err)
	}
	if err := services.ClassifyHTTP("audio", "synthesize", nil, errors.New("dial tcp: refused")); !services.IsRetryable(err) {
		t.Fatalf("expected network error to be retryable, got %v", err)
	}
}

func TestCodeOfOutermostMarkerWins(t *testing.T) {
	missing := services.Wrap(services.ErrNotFound, "", "get artifact", "artifact abc not found", nil)
	err := services.Wrap(services.ErrFatal, "script", "load document", "input document is missing", missing)
	if got := services.CodeOf(err); got != services.CodeFatal {
		t.Fatalf("expected fatal, got %q", got)
	}
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatal("cause must stay reachable with errors.Is")
	}
	if got := services.CodeOf(fmt.Errorf("run stage: %w", err)); got != services.CodeFatal {
		t.Fatalf("plain wrapping must keep the marker, got %q", got)
	}

	transient := services.Wrap(services.ErrTransient, "audio", "synthesize", "busy",
		services.Wrap(services.ErrValidation, "", "decode", "bad voice", nil))
	if !services.IsRetryable(transient) {
		t.Fatalf("expected outer transient marker to decide, got %q", services.CodeOf(transient))
	}
	if got := services.ClassifyInvocation(context.Background(), "audio", transient); got != transient {
		t.Fatalf("classified adapter error must pass through unchanged, got %v", got)
	}
}

func TestClassifyInvocationReclassifiesForeignMarkers(t *testing.T) {
	err := services.ClassifyInvocation(context.Background(), "publish", services.Wrap(services.ErrNotFound, "", "lookup", "gone", nil))
	if got := services.CodeOf(err); got != services.CodeFatal {
		t.Fatalf("expected adapter not-found to be fatal, got %q", got)
	}
}

func TestMessageWithoutStageDropsCause(t *testing.T) {
	err := services.Wrap(services.ErrValidation, "", "submit", "read document", errors.New("multipart: NextPart: unexpected EOF"))
	if msg := services.Message(err); msg != "submit: read document" {
		t.Fatalf("unexpected message %q", msg)
	}
	outer := fmt.Errorf("handler: %w", err)
	if msg := services.Message(outer); msg != "submit: read document" {
		t.Fatalf("unexpected message through plain wrap %q", msg)
	}
	if msg := services.Message(fmt.Errorf("%w: job abc", services.ErrNotFound)); msg != "job abc" {
		t.Fatalf("unexpected sentinel message %q", msg)
	}
}
