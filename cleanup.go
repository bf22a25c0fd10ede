package main

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CleanupFunc is a named teardown step.
type CleanupFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

// CleanupManager runs registered teardown steps exactly once. Steps run in
// parallel under a shared timeout. Failures are logged and swallowed: teardown
// must never mask the error that triggered it.
type CleanupManager struct {
	mu      sync.Mutex
	once    sync.Once
	funcs   []CleanupFunc
	timeout time.Duration
}

// NewCleanupManager builds a manager whose Run call is bounded by timeout.
func NewCleanupManager(timeout time.Duration) *CleanupManager {
	if timeout <= 0 {
		timeout = DefaultCleanupTimeout
	}
	return &CleanupManager{timeout: timeout}
}

// Register appends a teardown step. Steps registered after Run has fired are
// never executed.
func (m *CleanupManager) Register(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, CleanupFunc{Name: name, Fn: fn})
}

// Run executes all registered steps exactly once. The caller passes a fresh
// context: the run context is usually already canceled by the time teardown
// starts.
func (m *CleanupManager) Run(ctx context.Context) {
	m.once.Do(func() {
		m.mu.Lock()
		funcs := make([]CleanupFunc, len(m.funcs))
		copy(funcs, m.funcs)
		m.mu.Unlock()

		logger := Logger(ctx)
		if len(funcs) == 0 {
			logger.Debug("No cleanup functions to run")
			return
		}
		logger.Info("Running cleanup functions...", "count", len(funcs))

		cleanupCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		var wg sync.WaitGroup
		errorCh := make(chan error, len(funcs))

		for i, cleanup := range funcs {
			wg.Add(1)
			go func(idx int, cf CleanupFunc) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						logger.Error("Cleanup function panicked", "name", cf.Name, "index", idx, "panic", r)
						errorCh <- fmt.Errorf("cleanup %s panicked: %v", cf.Name, r)
					}
				}()

				if cf.Fn != nil {
					if err := cf.Fn(cleanupCtx); err != nil {
						logger.Error("Cleanup function failed", "name", cf.Name, "error", err)
						errorCh <- fmt.Errorf("cleanup %s failed: %w", cf.Name, err)
					} else {
						logger.Debug("Cleanup function succeeded", "name", cf.Name)
					}
				}
			}(i, cleanup)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			logger.Info("All cleanup functions completed")
			// Drained only after every writer has finished. The channel is
			// buffered to len(funcs), so a late send on the timeout path
			// below never blocks either.
			close(errorCh)
			for err := range errorCh {
				logger.Warn("Cleanup error", "error", err)
			}
		case <-cleanupCtx.Done():
			logger.Error("Cleanup timed out, some resources may not be cleaned up")
		}
	})
}
