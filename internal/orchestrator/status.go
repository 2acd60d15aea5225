package orchestrator

import (
	"fmt"
	"sync"
	"time"
)

// Status is one state of a SyncJob's lifecycle (§4.8, §7). Grounded on
// eve.evalgo.org/coordinator's Phase/PhaseManager: same
// valid-transitions-map plus mutex-guarded state struct, retargeted from a
// multi-workflow websocket coordinator to a single in-process sync job.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusRunning    Status = "RUNNING"
	StatusCancelling Status = "CANCELLING"
	StatusCancelled  Status = "CANCELLED"
	StatusCompleting Status = "COMPLETING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// validTransitions mirrors coordinator.ValidTransitions: every non-terminal
// status can also fail directly, since a SyncFailureError or critical
// interrupt can surface at any point in the run.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusRunning, StatusFailed},
	StatusRunning:    {StatusCancelling, StatusCompleting, StatusFailed},
	StatusCancelling: {StatusCancelled, StatusFailed},
	StatusCompleting: {StatusCompleted, StatusFailed},
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

func (s Status) CanTransitionTo(target Status) bool {
	for _, valid := range validTransitions[s] {
		if valid == target {
			return true
		}
	}
	return false
}

// JobState is the current lifecycle snapshot of one SyncJob.
type JobState struct {
	SyncID         string
	SyncJobID      string
	Status         Status
	PreviousStatus Status
	ChangedAt      time.Time
	Reason         string
	Error          string
}

// JobTracker owns the state machine for a single run. Unlike
// coordinator.PhaseManager it tracks exactly one workflow, since an
// Orchestrator instance is scoped to a single SyncJob.
type JobTracker struct {
	mu              sync.RWMutex
	state           JobState
	onStatusChanged func(JobState)
}

func NewJobTracker(syncID, syncJobID string) *JobTracker {
	return &JobTracker{
		state: JobState{
			SyncID:    syncID,
			SyncJobID: syncJobID,
			Status:    StatusPending,
			ChangedAt: time.Now(),
		},
	}
}

func (t *JobTracker) OnStatusChanged(fn func(JobState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStatusChanged = fn
}

func (t *JobTracker) State() JobState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// TransitionTo moves the job to newStatus, rejecting any transition not
// named in validTransitions.
func (t *JobTracker) TransitionTo(newStatus Status, reason string) error {
	t.mu.Lock()
	if !t.state.Status.CanTransitionTo(newStatus) {
		current := t.state.Status
		t.mu.Unlock()
		return fmt.Errorf("orchestrator: invalid status transition %s -> %s", current, newStatus)
	}
	t.state.PreviousStatus = t.state.Status
	t.state.Status = newStatus
	t.state.ChangedAt = time.Now()
	t.state.Reason = reason
	snapshot := t.state
	callback := t.onStatusChanged
	t.mu.Unlock()

	if callback != nil {
		callback(snapshot)
	}
	return nil
}

// Fail is allowed from any non-terminal status, same as
// coordinator.PhaseManager.Fail.
func (t *JobTracker) Fail(reason string) error {
	t.mu.Lock()
	if t.state.Status.IsTerminal() {
		current := t.state.Status
		t.mu.Unlock()
		return fmt.Errorf("orchestrator: job already in terminal status %s", current)
	}
	t.state.PreviousStatus = t.state.Status
	t.state.Status = StatusFailed
	t.state.ChangedAt = time.Now()
	t.state.Reason = reason
	t.state.Error = reason
	snapshot := t.state
	callback := t.onStatusChanged
	t.mu.Unlock()

	if callback != nil {
		callback(snapshot)
	}
	return nil
}

// RequestCancellation starts the CANCELLING transition; the caller must
// still observe CANCELLED within the configured grace period (§5).
func (t *JobTracker) RequestCancellation(reason string) error {
	return t.TransitionTo(StatusCancelling, reason)
}
