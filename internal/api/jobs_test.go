package api

import (
	"context"
	"errors"
	"testing"

	"github.com/FocuswithJustin/onexrd/internal/batch"
)

func TestJobStoreLifecycle(t *testing.T) {
	s := NewJobStore()
	job := s.Create(context.Background(), batch.DefaultParams("/data"))
	if job.Status != JobStatusPending || job.ID == "" {
		t.Fatalf("created job = %+v", job)
	}

	s.update(job.ID, func(j *Job) { j.Status = JobStatusRunning; j.Progress = 40 })
	got, ok := s.Get(job.ID)
	if !ok || got.Status != JobStatusRunning || got.Progress != 40 {
		t.Fatalf("after update: %+v %v", got, ok)
	}

	s.update(job.ID, func(j *Job) { j.Status = JobStatusCompleted })
	got, _ = s.Get(job.ID)
	if got.CompletedAt == "" {
		t.Error("completed job has no completion time")
	}
	if got.ctx.Err() == nil {
		t.Error("terminal job context not cancelled")
	}

	// Terminal jobs are frozen.
	s.update(job.ID, func(j *Job) { j.Status = JobStatusFailed })
	if got, _ = s.Get(job.ID); got.Status != JobStatusCompleted {
		t.Errorf("status changed after completion: %s", got.Status)
	}
}

func TestJobStoreSnapshot(t *testing.T) {
	s := NewJobStore()
	job := s.Create(context.Background(), batch.Params{InputDir: "/data"})
	snap, _ := s.Get(job.ID)
	snap.Progress = 99
	if again, _ := s.Get(job.ID); again.Progress != 0 {
		t.Error("mutating a snapshot changed the stored job")
	}
}

func TestJobStoreCancel(t *testing.T) {
	s := NewJobStore()
	job := s.Create(context.Background(), batch.Params{InputDir: "/data"})

	if err := s.Cancel("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Cancel(missing) = %v", err)
	}
	if err := s.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := s.Get(job.ID)
	if got.Status != JobStatusCancelled || got.ctx.Err() == nil {
		t.Errorf("after cancel: status=%s ctx=%v", got.Status, got.ctx.Err())
	}
	if err := s.Cancel(job.ID); err == nil || errors.Is(err, ErrJobNotFound) {
		t.Errorf("second Cancel = %v, want a state error", err)
	}
}

func TestJobStoreCancelAllAndList(t *testing.T) {
	s := NewJobStore()
	a := s.Create(context.Background(), batch.Params{InputDir: "/a"})
	s.Create(context.Background(), batch.Params{InputDir: "/b"})
	s.update(a.ID, func(j *Job) { j.Status = JobStatusCompleted })

	s.CancelAll()
	list := s.List()
	if len(list) != 2 {
		t.Fatalf("List len = %d", len(list))
	}
	for _, j := range list {
		want := JobStatusCancelled
		if j.ID == a.ID {
			want = JobStatusCompleted
		}
		if j.Status != want {
			t.Errorf("job %s status = %s, want %s", j.ID, j.Status, want)
		}
	}
}

func TestJobStoreParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := NewJobStore()
	job := s.Create(parent, batch.Params{InputDir: "/data"})
	cancel()
	if job.ctx.Err() == nil {
		t.Error("job context should follow its parent")
	}
}
