package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/book-expert/logger"
)

// ErrJobAlreadyRunning is returned when a job id is started twice.
var ErrJobAlreadyRunning = errors.New("job already running")

// handle tracks one running job: its cancellation token and a channel closed
// when the run goroutine exits.
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the table of running jobs. Each job runs in its own
// goroutine; cancellation is requested through the handle and honored by the
// orchestrator at chunk boundaries.
type Manager struct {
	orchestrator *Orchestrator
	log          *logger.Logger

	mu      sync.Mutex
	running map[string]*handle
}

// NewManager creates an empty job table around an orchestrator.
func NewManager(orchestrator *Orchestrator, log *logger.Logger) *Manager {
	return &Manager{
		orchestrator: orchestrator,
		log:          log,
		mu:           sync.Mutex{},
		running:      make(map[string]*handle),
	}
}

// Start launches a job in the background. The job record must already exist.
func (m *Manager) Start(ctx context.Context, req Request) error {
	runCtx, cancel := context.WithCancel(ctx)

	jobHandle := &handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()

	_, exists := m.running[req.JobID]
	if exists {
		m.mu.Unlock()
		cancel()

		return ErrJobAlreadyRunning
	}

	m.running[req.JobID] = jobHandle
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.running, req.JobID)
			m.mu.Unlock()

			cancel()
			close(jobHandle.done)
		}()

		runErr := m.orchestrator.Run(runCtx, req)
		if runErr != nil {
			m.log.Error("Job %s finished with error: %v", req.JobID, runErr)
		}
	}()

	return nil
}

// Cancel requests cooperative cancellation of a running job. It reports
// whether the job was found in the table; the job reaches its terminal
// status asynchronously.
func (m *Manager) Cancel(jobID string) bool {
	m.mu.Lock()
	jobHandle, found := m.running[jobID]
	m.mu.Unlock()

	if !found {
		return false
	}

	jobHandle.cancel()

	return true
}

// Running reports whether a job is currently in the table.
func (m *Manager) Running(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, found := m.running[jobID]

	return found
}

// Wait blocks until the named job's goroutine has exited. Jobs not in the
// table return immediately.
func (m *Manager) Wait(jobID string) {
	m.mu.Lock()
	jobHandle, found := m.running[jobID]
	m.mu.Unlock()

	if !found {
		return
	}

	<-jobHandle.done
}
