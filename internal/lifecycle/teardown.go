package lifecycle

import (
	"log/slog"
	"sync"
)

type step struct {
	name string
	fn   func() error
}

// Teardown is an ordered list of cleanup steps. Steps run in reverse order
// of registration, and the list runs at most once. Failing or panicking
// steps are logged and the remaining steps still run.
type Teardown struct {
	mu     sync.Mutex
	steps  []step
	once   sync.Once
	logger *slog.Logger
}

func NewTeardown(logger *slog.Logger) *Teardown {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Teardown{logger: logger}
}

// Push registers a step. Steps pushed after Run has started are ignored.
func (t *Teardown) Push(name string, fn func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, step{name: name, fn: fn})
}

// Run executes the registered steps once; later calls are no-ops.
func (t *Teardown) Run() {
	t.once.Do(func() {
		t.mu.Lock()
		steps := t.steps
		t.steps = nil
		t.mu.Unlock()

		for i := len(steps) - 1; i >= 0; i-- {
			t.runStep(steps[i])
		}
	})
}

func (t *Teardown) runStep(s step) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("teardown_step_panicked", slog.String("step", s.name), slog.Any("panic", r))
		}
	}()

	if err := s.fn(); err != nil {
		t.logger.Warn("teardown_step_failed", slog.String("step", s.name), slog.String("error", err.Error()))
		return
	}
	t.logger.Debug("teardown_step_done", slog.String("step", s.name))
}
