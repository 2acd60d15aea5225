package orchestrator

import "testing"

func TestNewJobTrackerStartsPending(t *testing.T) {
	tr := NewJobTracker("sync-1", "job-1")
	if tr.State().Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", tr.State().Status)
	}
}

func TestValidTransitionSequence(t *testing.T) {
	tr := NewJobTracker("sync-1", "job-1")
	if err := tr.TransitionTo(StatusRunning, "started"); err != nil {
		t.Fatalf("PENDING->RUNNING: %v", err)
	}
	if err := tr.TransitionTo(StatusCompleting, "finalizing"); err != nil {
		t.Fatalf("RUNNING->COMPLETING: %v", err)
	}
	if err := tr.TransitionTo(StatusCompleted, "done"); err != nil {
		t.Fatalf("COMPLETING->COMPLETED: %v", err)
	}
	if !tr.State().Status.IsTerminal() {
		t.Fatalf("expected COMPLETED to be terminal")
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	tr := NewJobTracker("sync-1", "job-1")
	if err := tr.TransitionTo(StatusCompleted, "skip ahead"); err == nil {
		t.Fatalf("expected PENDING->COMPLETED to be rejected")
	}
}

func TestCancellationPath(t *testing.T) {
	tr := NewJobTracker("sync-1", "job-1")
	tr.TransitionTo(StatusRunning, "started")

	if err := tr.RequestCancellation("user requested"); err != nil {
		t.Fatalf("RequestCancellation: %v", err)
	}
	if err := tr.TransitionTo(StatusCancelled, "cancelled"); err != nil {
		t.Fatalf("CANCELLING->CANCELLED: %v", err)
	}
	if tr.State().Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", tr.State().Status)
	}
}

func TestFailAllowedFromAnyNonTerminalStatus(t *testing.T) {
	tr := NewJobTracker("sync-1", "job-1")
	tr.TransitionTo(StatusRunning, "started")

	if err := tr.Fail("boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if tr.State().Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", tr.State().Status)
	}
	if tr.State().Error != "boom" {
		t.Fatalf("expected error message preserved, got %q", tr.State().Error)
	}
}

func TestFailRejectedOnceTerminal(t *testing.T) {
	tr := NewJobTracker("sync-1", "job-1")
	tr.TransitionTo(StatusRunning, "started")
	tr.TransitionTo(StatusCompleting, "finalizing")
	tr.TransitionTo(StatusCompleted, "done")

	if err := tr.Fail("too late"); err == nil {
		t.Fatalf("expected Fail to be rejected once terminal")
	}
}

func TestStatusChangedCallbackFires(t *testing.T) {
	tr := NewJobTracker("sync-1", "job-1")
	var seen []Status
	tr.OnStatusChanged(func(s JobState) { seen = append(seen, s.Status) })

	tr.TransitionTo(StatusRunning, "started")
	tr.TransitionTo(StatusCompleting, "finalizing")

	if len(seen) != 2 || seen[0] != StatusRunning || seen[1] != StatusCompleting {
		t.Fatalf("unexpected callback sequence: %v", seen)
	}
}
