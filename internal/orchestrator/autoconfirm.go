package orchestrator

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dohr-michael/fleetd/internal/store"
	"github.com/dohr-michael/fleetd/internal/workflow"
)

// DecisionFor returns the unattended decision for a confirmation step
// code. It mirrors what an operator would pick in the common case.
func DecisionFor(code string) string {
	switch {
	case strings.HasPrefix(code, workflow.CodeOrderDecision):
		return "COMPLETED"
	case strings.HasPrefix(code, workflow.CodeCleanupHasDishes):
		return "YES"
	case strings.HasPrefix(code, workflow.CodeCleanupMoreDishes):
		return "NO"
	default:
		return "CONFIRM"
	}
}

// AutoConfirm resolves MANUAL_CONFIRM steps unattended. It is a client
// of the same Decide operation operators use and carries no extra
// authority.
type AutoConfirm struct {
	store    *store.Store
	executor *workflow.Executor
	interval time.Duration
	log      *slog.Logger

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewAutoConfirm(st *store.Store, ex *workflow.Executor, interval time.Duration, log *slog.Logger) *AutoConfirm {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &AutoConfirm{
		store:    st,
		executor: ex,
		interval: interval,
		log:      log.With("component", "auto-confirm"),
		done:     make(chan struct{}),
	}
}

func (a *AutoConfirm) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.done:
				return
			case <-ticker.C:
				a.Pass()
			}
		}
	}()
}

func (a *AutoConfirm) Stop() {
	a.once.Do(func() { close(a.done) })
	a.wg.Wait()
}

// Pass decides every RUNNING run currently parked on an undecided
// confirmation step. Returns the number of decisions applied.
func (a *AutoConfirm) Pass() int {
	runs, err := a.store.RunningRuns()
	if err != nil {
		a.log.Error("list runs failed", "error", err)
		return 0
	}

	decided := 0
	for i := range runs {
		run := &runs[i]
		if run.CurrentStepIndex >= run.TotalSteps {
			continue
		}
		step, err := a.store.StepAt(run.ID, run.CurrentStepIndex)
		if err != nil {
			a.log.Warn("load step failed", "run", run.ID, "error", err)
			continue
		}
		if step.Kind != store.StepManualConfirm || step.CompletedAt != nil {
			continue
		}

		decision := DecisionFor(step.Code)
		if _, err := a.executor.Decide(run.ID, decision, nil); err != nil {
			// A racing operator decision or cancellation is fine.
			if errors.Is(err, workflow.ErrNotConfirm) || errors.Is(err, workflow.ErrRunNotRunning) {
				continue
			}
			a.log.Warn("auto decide failed", "run", run.ID, "step", step.Code, "error", err)
			continue
		}
		a.log.Info("auto confirmed", "run", run.ID, "step", step.Code, "decision", decision)
		decided++
	}
	return decided
}
