// Package orchestrator coordinates the lifecycle of delegated sub-agent
// tasks: admission, launch against the execution context provider,
// completion detection, cancellation, and shutdown cleanup.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/subagentd/internal/gate"
	"github.com/antoniostano/subagentd/internal/observability"
	"github.com/antoniostano/subagentd/internal/policy"
	"github.com/antoniostano/subagentd/internal/provider"
	"github.com/antoniostano/subagentd/internal/tasks"
)

const subagentSystemText = "You are a sub-agent working on one delegated task. " +
	"Use the read-only tools provided to investigate, then report your findings " +
	"as a single final message."

// resultFetchLimit bounds how much history is pulled when extracting a result.
const resultFetchLimit = 50

type Config struct {
	MaxConcurrent       int
	PollInterval        time.Duration
	TaskTimeout         time.Duration
	StablePollThreshold int
	IdleEventDebounce   time.Duration
	WaitPollStep        time.Duration
	ResultCharLimit     int
}

type Orchestrator struct {
	cfg      Config
	registry *tasks.Registry
	gate     *gate.Gate
	provider provider.Provider
	metrics  *observability.Metrics

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu            sync.Mutex
	launchCancels map[string]context.CancelFunc
	slotHolders   map[string]bool
	idleTimers    map[string]*time.Timer

	startOnce    sync.Once
	shutdownOnce sync.Once
}

func New(cfg Config, prov provider.Provider, store tasks.Store, metrics *observability.Metrics) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Minute
	}
	if cfg.StablePollThreshold <= 0 {
		cfg.StablePollThreshold = 3
	}
	if cfg.IdleEventDebounce <= 0 {
		cfg.IdleEventDebounce = 500 * time.Millisecond
	}
	if cfg.WaitPollStep <= 0 {
		cfg.WaitPollStep = 250 * time.Millisecond
	}
	if cfg.ResultCharLimit <= 0 {
		cfg.ResultCharLimit = 20000
	}

	registry := tasks.NewRegistry()
	if store != nil {
		registry.SetStore(store)
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:           cfg,
		registry:      registry,
		gate:          gate.New(cfg.MaxConcurrent),
		provider:      prov,
		metrics:       metrics,
		baseCtx:       baseCtx,
		baseCancel:    baseCancel,
		launchCancels: make(map[string]context.CancelFunc),
		slotHolders:   make(map[string]bool),
		idleTimers:    make(map[string]*time.Timer),
	}
}

// Start launches the background completion detector. Safe to call once.
func (o *Orchestrator) Start() {
	o.startOnce.Do(func() {
		go o.pollLoop()
	})
}

// Launch registers a task and starts it in the background. The returned
// snapshot is pending; admission and context creation proceed asynchronously.
func (o *Orchestrator) Launch(req tasks.LaunchRequest) (tasks.Task, error) {
	if o.provider == nil {
		return tasks.Task{}, errors.New("execution context provider is not configured")
	}
	task, err := o.registry.Create(req)
	if err != nil {
		return tasks.Task{}, err
	}
	o.metrics.ObserveTaskEvent("launched")
	go o.admitAndStart(task.ID)
	return task, nil
}

// LaunchAndWait launches a task and blocks until it reaches a terminal state
// or the timeout elapses, in which case the task is cancelled with a timeout
// cause. This is the only blocking entry point.
func (o *Orchestrator) LaunchAndWait(ctx context.Context, req tasks.LaunchRequest, timeout time.Duration) (tasks.Task, error) {
	if timeout <= 0 {
		timeout = o.cfg.TaskTimeout
	}
	task, err := o.Launch(req)
	if err != nil {
		return tasks.Task{}, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			t, _, _ := o.cancelWithCode(task.ID, tasks.CodeCancelled, "caller went away")
			return t, ctx.Err()
		case <-deadline.C:
			t, _, err := o.cancelWithCode(task.ID, tasks.CodeTimeout, fmt.Sprintf("timed out after %s", timeout))
			return t, err
		case <-time.After(o.cfg.WaitPollStep):
			t, err := o.registry.Get(task.ID)
			if err != nil {
				return tasks.Task{}, err
			}
			if t.Terminal() {
				return t, nil
			}
			if t.Status == tasks.StatusRunning {
				o.pollTask(ctx, t)
			}
		}
	}
}

func (o *Orchestrator) GetTask(taskID string) (tasks.Task, error) {
	return o.registry.Get(taskID)
}

func (o *Orchestrator) ListTasks() []tasks.Task {
	return o.registry.List()
}

func (o *Orchestrator) ListTaskEvents(taskID string, limit int) ([]tasks.Event, error) {
	return o.registry.ListEvents(taskID, limit)
}

// CancelTask cancels a pending or running task, best-effort aborting its
// execution context. The bool reports whether this call performed the
// cancellation; cancelling an already terminal task is a no-op.
func (o *Orchestrator) CancelTask(taskID, reason string) (tasks.Task, bool, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by caller"
	}
	return o.cancelWithCode(taskID, tasks.CodeCancelled, reason)
}

func (o *Orchestrator) cancelWithCode(taskID, code, reason string) (tasks.Task, bool, error) {
	// Interrupt a launch still waiting on admission.
	o.mu.Lock()
	cancel := o.launchCancels[taskID]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	task, changed, err := o.registry.Cancel(taskID, code, reason)
	if err != nil {
		return tasks.Task{}, false, err
	}
	if !changed {
		return task, false, nil
	}
	o.finish(task, "cancelled", true)
	return task, true, nil
}

// RunningSummary renders a plain-text overview of in-flight tasks for
// injection into the parent's surrounding context.
func (o *Orchestrator) RunningSummary() string {
	running := o.registry.Running()
	if len(running) == 0 {
		return "No sub-agent tasks are running."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d sub-agent task(s) running:\n", len(running))
	for _, t := range running {
		elapsed := time.Duration(0)
		if t.StartedAt != nil {
			elapsed = time.Since(*t.StartedAt).Round(time.Second)
		}
		fmt.Fprintf(&b, "- %s: %s (running %s)\n", shortID(t.ID), t.Description, elapsed)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Shutdown stops the detector, rejects queued admissions, and best-effort
// aborts every running context. Runs its cleanup exactly once no matter how
// many times the host signals termination.
func (o *Orchestrator) Shutdown() {
	o.shutdownOnce.Do(func() {
		o.baseCancel()

		o.mu.Lock()
		for id, timer := range o.idleTimers {
			timer.Stop()
			delete(o.idleTimers, id)
		}
		o.mu.Unlock()

		o.gate.Clear()

		for _, t := range o.registry.Running() {
			o.abortContext(t.ContextID)
		}
	})
}

func (o *Orchestrator) admitAndStart(taskID string) {
	ctx, cancel := context.WithCancel(o.baseCtx)
	o.mu.Lock()
	o.launchCancels[taskID] = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.launchCancels, taskID)
		o.mu.Unlock()
	}()

	if err := o.gate.Acquire(ctx); err != nil {
		task, changed, _ := o.registry.Fail(taskID, tasks.CodeAdmissionFailed,
			fmt.Sprintf("no concurrency slot granted: %v", err))
		if changed {
			o.finish(task, "error", false)
		}
		return
	}

	o.mu.Lock()
	o.slotHolders[taskID] = true
	o.mu.Unlock()
	o.updateGauges()

	task, err := o.registry.Get(taskID)
	if err != nil {
		o.releaseSlot(taskID)
		return
	}
	if task.Terminal() {
		// Cancelled while queued for admission.
		o.releaseSlot(taskID)
		o.updateGauges()
		return
	}

	contextID, err := o.provider.CreateContext(ctx, task.ParentContextID, task.Description)
	if err != nil {
		o.metrics.ObserveProviderError("create_context")
		failed, changed, _ := o.registry.Fail(taskID, tasks.CodeContextCreateFailed, err.Error())
		if changed {
			o.finish(failed, "error", false)
		} else {
			o.releaseSlot(taskID)
		}
		return
	}

	if err := o.provider.StartPrompt(ctx, contextID, subagentSystemText, policy.SubagentTools(), task.Prompt); err != nil {
		o.metrics.ObserveProviderError("start_prompt")
		failed, changed, _ := o.registry.Fail(taskID, tasks.CodePromptStartFailed, err.Error())
		if changed {
			o.finish(failed, "error", false)
		} else {
			o.releaseSlot(taskID)
		}
		o.abortContext(contextID)
		return
	}

	if _, err := o.registry.MarkRunning(taskID, contextID); err != nil {
		// Cancellation raced the start; the context is orphaned, drop it.
		o.releaseSlot(taskID)
		o.abortContext(contextID)
		return
	}
	o.metrics.ObserveTaskEvent("started")
	o.updateGauges()
}

// finish performs the post-terminal bookkeeping shared by every path that
// wins a transition: slot release (exactly once per task), metrics, and an
// optional best-effort context abort.
func (o *Orchestrator) finish(task tasks.Task, event string, abort bool) {
	o.releaseSlot(task.ID)
	o.metrics.ObserveTaskEvent(event)
	if task.StartedAt != nil && task.CompletedAt != nil {
		o.metrics.ObserveTaskDuration(task.CompletedAt.Sub(*task.StartedAt))
	}
	if abort && task.ContextID != "" {
		o.abortContext(task.ContextID)
	}
	o.updateGauges()
}

func (o *Orchestrator) releaseSlot(taskID string) {
	o.mu.Lock()
	held := o.slotHolders[taskID]
	delete(o.slotHolders, taskID)
	o.mu.Unlock()
	if held {
		o.gate.Release()
	}
}

func (o *Orchestrator) abortContext(contextID string) {
	contextID = strings.TrimSpace(contextID)
	if contextID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.provider.Abort(ctx, contextID)
	}()
}

func (o *Orchestrator) updateGauges() {
	o.metrics.SetSlots(o.gate.Active(), o.gate.Waiting())
	o.metrics.SetRunningTasks(len(o.registry.Running()))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
