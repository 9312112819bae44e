package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/antoniostano/subagentd/internal/provider"
	"github.com/antoniostano/subagentd/internal/tasks"
)

// The completion detector merges two independent signals into one state
// transition: provider idle events (fast path, debounced) and the periodic
// poll (timeout check, direct status check, stability fallback). Both funnel
// through resolve, whose commit is the registry's running-state re-check, so
// whichever signal fires first wins and the other becomes a no-op.

func (o *Orchestrator) pollLoop() {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.baseCtx.Done():
			return
		case <-ticker.C:
			o.pollOnce(o.baseCtx)
		}
	}
}

// pollOnce runs one detector tick over every running task. Provider failures
// here are transient by policy: they are logged, counted, and retried on the
// next tick, never surfaced to a task.
func (o *Orchestrator) pollOnce(ctx context.Context) {
	started := time.Now()
	defer func() {
		o.metrics.ObservePollTick(time.Since(started))
	}()

	running := o.registry.Running()
	o.metrics.SetRunningTasks(len(running))
	if len(running) == 0 {
		return
	}

	statuses, err := o.provider.QueryStatuses(ctx)
	if err != nil {
		o.metrics.ObserveProviderError("query_statuses")
		log.Printf("poll: status query failed, will retry: %v", err)
		statuses = nil
	}

	for _, t := range running {
		o.checkTask(ctx, t, statuses)
	}
}

// pollTask runs the detector steps for a single task, used by the
// LaunchAndWait sleep-then-poll loop between background ticks.
func (o *Orchestrator) pollTask(ctx context.Context, t tasks.Task) {
	statuses, err := o.provider.QueryStatuses(ctx)
	if err != nil {
		o.metrics.ObserveProviderError("query_statuses")
		statuses = nil
	}
	o.checkTask(ctx, t, statuses)
}

func (o *Orchestrator) checkTask(ctx context.Context, t tasks.Task, statuses map[string]provider.ContextStatus) {
	if t.StartedAt != nil && time.Since(*t.StartedAt) > o.cfg.TaskTimeout {
		task, changed, err := o.registry.Cancel(t.ID, tasks.CodeTimeout,
			fmt.Sprintf("timed out after %s", o.cfg.TaskTimeout))
		if err == nil && changed {
			o.finish(task, "timeout", true)
		}
		return
	}

	if statuses != nil && statuses[t.ContextID] == provider.StatusIdle {
		o.resolve(ctx, t.ID)
		return
	}

	count, err := o.provider.MessageCount(ctx, t.ContextID)
	if err != nil {
		o.metrics.ObserveProviderError("message_count")
		return
	}
	stable, err := o.registry.ObserveActivity(t.ID, count)
	if err != nil {
		return
	}
	if stable >= o.cfg.StablePollThreshold {
		o.resolve(ctx, t.ID)
	}
}

// HandleEvent ingests a provider push notification. Idle events for a known
// running context schedule resolution after a short debounce so trailing
// output can settle; anything else is ignored.
func (o *Orchestrator) HandleEvent(evt provider.Event) {
	if evt.Type != provider.EventContextIdle {
		return
	}
	t, err := o.registry.FindByContext(evt.ContextID)
	if err != nil || t.Status != tasks.StatusRunning {
		return
	}

	taskID := t.ID
	o.mu.Lock()
	if _, pending := o.idleTimers[taskID]; pending {
		o.mu.Unlock()
		return
	}
	o.idleTimers[taskID] = time.AfterFunc(o.cfg.IdleEventDebounce, func() {
		o.mu.Lock()
		delete(o.idleTimers, taskID)
		o.mu.Unlock()
		o.resolve(o.baseCtx, taskID)
	})
	o.mu.Unlock()
}

// resolve extracts the task's result and commits the running→terminal
// transition. The registry re-checks the running state under its own lock,
// so concurrent resolutions collapse to a single winner and the slot is
// released exactly once via finish.
func (o *Orchestrator) resolve(ctx context.Context, taskID string) {
	t, err := o.registry.Get(taskID)
	if err != nil || t.Status != tasks.StatusRunning {
		return
	}

	msgs, err := o.provider.FetchMessages(ctx, t.ContextID, resultFetchLimit)
	if err != nil {
		o.metrics.ObserveProviderError("fetch_messages")
		task, changed, ferr := o.registry.Fail(taskID, tasks.CodeExtractionFailed,
			fmt.Sprintf("reading result failed: %v", err))
		if ferr == nil && changed {
			o.finish(task, "error", false)
		}
		return
	}

	result := provider.LatestAssistantText(msgs, o.cfg.ResultCharLimit)
	task, changed, err := o.registry.Complete(taskID, result)
	if err != nil || !changed {
		return
	}
	o.finish(task, "completed", false)
}
