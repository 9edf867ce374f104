package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"lipsync/internal/artifact"
	"lipsync/internal/config"
	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/notifications"
	"lipsync/internal/stage"
	"lipsync/internal/stageexec"
)

// Manager coordinates job submission, the worker pool, and cancellation.
type Manager struct {
	cfg          *config.Config
	store        *jobs.Store
	artifacts    *artifact.Store
	registry     *stage.Registry
	logger       *slog.Logger
	notifier     notifications.Service
	executor     *stageexec.Executor
	pollInterval time.Duration
	instance     string

	wakeMu sync.Mutex
	wakeCh chan struct{}

	cancelMu sync.Mutex
	cancels  map[string]*cancelSignal

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	active  int
}

type cancelSignal struct {
	ch     chan struct{}
	closed bool
}

// NewManager constructs a workflow manager with the configured notifier.
func NewManager(cfg *config.Config, store *jobs.Store, artifacts *artifact.Store, registry *stage.Registry, logger *slog.Logger) *Manager {
	return NewManagerWithNotifier(cfg, store, artifacts, registry, logger, notifications.NewService(cfg))
}

// NewManagerWithNotifier constructs a workflow manager with a custom notifier (used in tests).
func NewManagerWithNotifier(cfg *config.Config, store *jobs.Store, artifacts *artifact.Store, registry *stage.Registry, logger *slog.Logger, notifier notifications.Service) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:          cfg,
		store:        store,
		artifacts:    artifacts,
		registry:     registry,
		logger:       logging.NewComponentLogger(logger, "workflow"),
		notifier:     notifier,
		pollInterval: cfg.PollInterval(),
		instance:     uuid.NewString()[:8],
		wakeCh:       make(chan struct{}),
		cancels:      make(map[string]*cancelSignal),
	}
	m.executor = stageexec.New(stageexec.Options{
		Store:    store,
		Registry: registry,
		Logger:   logger,
		Retry:    stageexec.PolicyFromConfig(cfg),
		Timeout: func(name stage.Name) time.Duration {
			return cfg.StageTimeout(string(name))
		},
		CancelSignal: m.cancelChannel,
	})
	return m
}

// wake releases every idle worker so newly queued jobs are claimed promptly.
func (m *Manager) wake() {
	m.wakeMu.Lock()
	close(m.wakeCh)
	m.wakeCh = make(chan struct{})
	m.wakeMu.Unlock()
}

func (m *Manager) wakeChannel() <-chan struct{} {
	m.wakeMu.Lock()
	defer m.wakeMu.Unlock()
	return m.wakeCh
}

func (m *Manager) cancelChannel(jobID string) <-chan struct{} {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	sig, ok := m.cancels[jobID]
	if !ok {
		sig = &cancelSignal{ch: make(chan struct{})}
		m.cancels[jobID] = sig
	}
	return sig.ch
}

// signalCancel wakes a worker waiting out a retry backoff for jobID. The job
// may finish between the cancel request and this call, after its worker has
// already dropped the signal, so the entry is removed again once the job is
// seen terminal.
func (m *Manager) signalCancel(ctx context.Context, jobID string) {
	m.cancelMu.Lock()
	sig, ok := m.cancels[jobID]
	if !ok {
		sig = &cancelSignal{ch: make(chan struct{})}
		m.cancels[jobID] = sig
	}
	if !sig.closed {
		close(sig.ch)
		sig.closed = true
	}
	m.cancelMu.Unlock()

	job, err := m.store.Get(ctx, jobID)
	if err != nil || job.IsTerminal() {
		m.forgetCancel(jobID)
	}
}

func (m *Manager) forgetCancel(jobID string) {
	m.cancelMu.Lock()
	delete(m.cancels, jobID)
	m.cancelMu.Unlock()
}
