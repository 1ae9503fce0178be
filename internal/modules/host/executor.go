// Package host implements the host collaborator interfaces for a headless
// process: execution grants, local notification display and deep links.
package host

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pushsync/internal/modules/lifecycle"
)

// Executor emulates bounded background execution with a fixed budget per grant.
type Executor struct {
	budget time.Duration
	log    *slog.Logger

	mu     sync.Mutex
	grants map[lifecycle.GrantHandle]*time.Timer
}

// NewExecutor denies every request when budget is not positive.
func NewExecutor(budget time.Duration, log *slog.Logger) *Executor {
	return &Executor{
		budget: budget,
		log:    log.With(slog.String("component", "host_executor")),
		grants: make(map[lifecycle.GrantHandle]*time.Timer),
	}
}

func (e *Executor) RequestExtraExecutionTime(expired func()) (lifecycle.GrantHandle, bool) {
	if e.budget <= 0 {
		e.log.Info("extra execution denied")
		return "", false
	}
	handle := lifecycle.GrantHandle(uuid.NewString())

	e.mu.Lock()
	defer e.mu.Unlock()
	e.grants[handle] = time.AfterFunc(e.budget, func() {
		e.mu.Lock()
		_, live := e.grants[handle]
		delete(e.grants, handle)
		e.mu.Unlock()
		if live {
			e.log.Info("extra execution expired", slog.String("grant", string(handle)))
			expired()
		}
	})
	e.log.Debug("extra execution granted", slog.String("grant", string(handle)), slog.Duration("budget", e.budget))
	return handle, true
}

func (e *Executor) EndExtraExecutionTime(handle lifecycle.GrantHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.grants[handle]; ok {
		t.Stop()
		delete(e.grants, handle)
	}
}

// Outstanding is the number of grants neither ended nor expired.
func (e *Executor) Outstanding() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.grants)
}
