package jobstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fplsage/fpl-sage/internal/domain/analysis"
	"github.com/fplsage/fpl-sage/internal/platform/logging"
)

type sequentialIDs struct{ next int }

func (g *sequentialIDs) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("job%05d", g.next), nil
}

func newTestStore() *Store {
	return NewStore(&sequentialIDs{}, time.Hour, logging.NewNop())
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore()

	job, err := store.Create(4521337, 12, nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if job.Status != analysis.StatusQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}
	if job.TeamID != 4521337 || job.Gameweek != 12 {
		t.Fatalf("unexpected job: %+v", job)
	}

	got, ok := store.Get(job.ID)
	if !ok || got.ID != job.ID {
		t.Fatalf("get returned %+v ok=%v", got, ok)
	}
	if _, ok := store.Get("missing1"); ok {
		t.Fatal("expected miss for unknown id")
	}
}

func TestUpdateTransitions(t *testing.T) {
	store := newTestStore()
	job, _ := store.Create(1, 0, nil)

	updated, ok := store.Update(job.ID, func(j *analysis.Job) {
		j.Status = analysis.StatusRunning
		j.Phase = "collecting"
		j.Progress = 0.1
	})
	if !ok || updated.Status != analysis.StatusRunning || updated.Phase != "collecting" {
		t.Fatalf("unexpected update result: %+v ok=%v", updated, ok)
	}

	updated, _ = store.Update(job.ID, func(j *analysis.Job) {
		j.Status = analysis.StatusCompleted
	})
	if updated.Status != analysis.StatusCompleted {
		t.Fatalf("expected completed, got %s", updated.Status)
	}
	if updated.FinishedAt == nil {
		t.Fatal("expected finished_at on terminal transition")
	}

	// Terminal jobs are frozen.
	frozen, _ := store.Update(job.ID, func(j *analysis.Job) {
		j.Status = analysis.StatusRunning
		j.Progress = 0.5
	})
	if frozen.Status != analysis.StatusCompleted || frozen.Progress == 0.5 {
		t.Fatalf("terminal job mutated: %+v", frozen)
	}
}

func TestUpdateRejectsIllegalTransition(t *testing.T) {
	store := newTestStore()
	job, _ := store.Create(1, 0, nil)

	// queued -> completed skips running.
	updated, _ := store.Update(job.ID, func(j *analysis.Job) {
		j.Status = analysis.StatusCompleted
	})
	if updated.Status != analysis.StatusQueued {
		t.Fatalf("expected transition rejected, got %s", updated.Status)
	}
}

func TestCancelFiresContextAndNotifies(t *testing.T) {
	store := newTestStore()
	job, _ := store.Create(1, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	store.BindCancel(job.ID, cancel)

	sub, ok := store.Subscribe(job.ID)
	if !ok {
		t.Fatal("subscribe failed")
	}
	defer store.Unsubscribe(sub)

	got, found, cancelled := store.Cancel(job.ID)
	if !found || !cancelled {
		t.Fatalf("cancel: found=%v cancelled=%v", found, cancelled)
	}
	if got.Status != analysis.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("run context not cancelled")
	}

	select {
	case event := <-sub.C:
		if event.Type != analysis.EventCancelled {
			t.Fatalf("expected cancelled event, got %s", event.Type)
		}
	default:
		t.Fatal("expected cancelled event on subscription")
	}

	// Cancelling again is idempotent.
	_, found, cancelled = store.Cancel(job.ID)
	if !found || cancelled {
		t.Fatalf("second cancel: found=%v cancelled=%v", found, cancelled)
	}
}

func TestCancelActiveStopsOnlyNonTerminalJobs(t *testing.T) {
	store := newTestStore()

	queued, _ := store.Create(1, 0, nil)
	running, _ := store.Create(2, 0, nil)
	store.Update(running.ID, func(j *analysis.Job) { j.Status = analysis.StatusRunning })
	done, _ := store.Create(3, 0, nil)
	store.Update(done.ID, func(j *analysis.Job) { j.Status = analysis.StatusRunning })
	store.Update(done.ID, func(j *analysis.Job) { j.Status = analysis.StatusCompleted })

	runCtx, cancel := context.WithCancel(context.Background())
	store.BindCancel(running.ID, cancel)

	if got := store.CancelActive(); got != 2 {
		t.Fatalf("expected 2 cancellations, got %d", got)
	}
	select {
	case <-runCtx.Done():
	default:
		t.Fatal("running job's context not cancelled")
	}

	for _, jobID := range []string{queued.ID, running.ID} {
		job, _ := store.Get(jobID)
		if job.Status != analysis.StatusCancelled {
			t.Fatalf("job %s: expected cancelled, got %s", jobID, job.Status)
		}
	}
	completed, _ := store.Get(done.ID)
	if completed.Status != analysis.StatusCompleted {
		t.Fatalf("terminal job touched: %s", completed.Status)
	}

	// Nothing left to cancel.
	if got := store.CancelActive(); got != 0 {
		t.Fatalf("expected idempotent second pass, got %d", got)
	}
}

func TestPublishDropsOldestWhenQueueFull(t *testing.T) {
	store := newTestStore()
	job, _ := store.Create(1, 0, nil)

	sub, _ := store.Subscribe(job.ID)
	defer store.Unsubscribe(sub)

	for i := 0; i < subscriberQueueSize+5; i++ {
		store.Publish(job.ID, analysis.Event{
			Type:     analysis.EventProgress,
			Progress: float64(i),
		})
	}

	first := <-sub.C
	if first.Progress != 5 {
		t.Fatalf("expected oldest events dropped, first progress=%v", first.Progress)
	}
	if got := len(sub.C); got != subscriberQueueSize-1 {
		t.Fatalf("expected full queue minus read, got %d", got)
	}
}

func TestReapRemovesExpiredTerminalJobs(t *testing.T) {
	store := newTestStore()
	job, _ := store.Create(1, 0, nil)

	store.Update(job.ID, func(j *analysis.Job) { j.Status = analysis.StatusRunning })
	store.Update(job.ID, func(j *analysis.Job) { j.Status = analysis.StatusFailed })

	// Not yet expired.
	store.reap()
	if _, ok := store.Get(job.ID); !ok {
		t.Fatal("job reaped before retention elapsed")
	}

	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	store.reap()
	if _, ok := store.Get(job.ID); ok {
		t.Fatal("expected expired job reaped")
	}

	// Running jobs survive regardless of age.
	running, _ := store.Create(2, 0, nil)
	store.Update(running.ID, func(j *analysis.Job) { j.Status = analysis.StatusRunning })
	store.reap()
	if _, ok := store.Get(running.ID); !ok {
		t.Fatal("running job must not be reaped")
	}
}
