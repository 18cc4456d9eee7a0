package jobs_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"castline/internal/jobs"
	"castline/internal/logging"
)

func newRunner(t *testing.T, history int) *jobs.Runner {
	t.Helper()
	r := jobs.NewRunner(logging.NewNop(), history)
	t.Cleanup(r.Stop)
	return r
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRunnerExecutesInSubmissionOrder(t *testing.T) {
	r := newRunner(t, 0)
	var (
		mu      sync.Mutex
		order   []int
		active  atomic.Int32
		overlap atomic.Bool
	)
	var last string
	for i := 0; i < 5; i++ {
		id, err := r.Submit("test", "op", 0, func(context.Context, jobs.Progress) (any, error) {
			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			defer active.Add(-1)
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		last = id
	}
	job, err := r.Wait(waitCtx(t), last)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if job.State != jobs.StateSuccess || job.Result != 4 {
		t.Fatalf("unexpected last job %#v", job)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("jobs ran out of order: %v", order)
		}
	}
	if overlap.Load() {
		t.Fatal("jobs must never run concurrently")
	}
}

func TestRunnerReportsErrorsAndPanics(t *testing.T) {
	r := newRunner(t, 0)
	sentinel := errors.New("boom")

	job, err := r.Do(waitCtx(t), "test", "fails", 7, func(context.Context, jobs.Progress) (any, error) {
		return nil, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected op error, got %v", err)
	}
	if job.State != jobs.StateError || job.Error != "boom" || job.UnitID != 7 {
		t.Fatalf("unexpected job %#v", job)
	}

	job, err = r.Do(waitCtx(t), "test", "panics", 0, func(context.Context, jobs.Progress) (any, error) {
		panic("kaboom")
	})
	if err == nil || job.State != jobs.StateError {
		t.Fatalf("panic should become a job error, got %#v %v", job, err)
	}

	job, err = r.Do(waitCtx(t), "test", "after panic", 0, func(context.Context, jobs.Progress) (any, error) {
		return "ok", nil
	})
	if err != nil || job.Result != "ok" {
		t.Fatalf("runner should survive a panic, got %#v %v", job, err)
	}
}

func TestRunnerKeepsPartialResultOfFailedJob(t *testing.T) {
	r := newRunner(t, 0)
	sentinel := errors.New("stage 2 failed")

	job, err := r.Do(waitCtx(t), "pipeline", "partial", 3, func(context.Context, jobs.Progress) (any, error) {
		return []string{"fetch"}, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected op error, got %v", err)
	}
	done, ok := job.Result.([]string)
	if job.State != jobs.StateError || !ok || len(done) != 1 || done[0] != "fetch" {
		t.Fatalf("failed job should keep its partial result, got %#v", job)
	}
}

func TestRunnerProgressAndLookup(t *testing.T) {
	r := newRunner(t, 0)
	release := make(chan struct{})
	id, err := r.Submit("test", "slow", 0, func(_ context.Context, progress jobs.Progress) (any, error) {
		progress("halfway")
		<-release
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	eventually(t, func() bool {
		job, err := r.Get(id)
		return err == nil && job.State == jobs.StateRunning && job.Progress == "halfway"
	})
	close(release)
	if _, err := r.Wait(waitCtx(t), id); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if _, err := r.Get("missing"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRunnerForgetsOldJobs(t *testing.T) {
	r := newRunner(t, 2)
	var ids []string
	for i := 0; i < 4; i++ {
		job, err := r.Do(waitCtx(t), "test", "op", 0, func(context.Context, jobs.Progress) (any, error) { return nil, nil })
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		ids = append(ids, job.ID)
	}
	if got := len(r.List()); got != 2 {
		t.Fatalf("expected 2 remembered jobs, got %d", got)
	}
	if _, err := r.Get(ids[0]); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("oldest job should be forgotten, got %v", err)
	}
	if _, err := r.Get(ids[3]); err != nil {
		t.Fatalf("newest job should remain: %v", err)
	}
}

func TestRunnerStopFailsQueuedJobs(t *testing.T) {
	r := jobs.NewRunner(logging.NewNop(), 0)
	release := make(chan struct{})
	running, err := r.Submit("test", "running", 0, func(context.Context, jobs.Progress) (any, error) {
		<-release
		return "finished", nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	queued, err := r.Submit("test", "queued", 0, func(context.Context, jobs.Progress) (any, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	eventually(t, func() bool {
		job, _ := r.Get(running)
		return job.State == jobs.StateRunning
	})

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	eventually(t, func() bool {
		_, err := r.Submit("test", "late", 0, func(context.Context, jobs.Progress) (any, error) { return nil, nil })
		return errors.Is(err, jobs.ErrRunnerStopped)
	})
	close(release)
	<-stopped

	job, err := r.Wait(waitCtx(t), running)
	if err != nil || job.Result != "finished" {
		t.Fatalf("running job must complete, got %#v %v", job, err)
	}
	if _, err := r.Wait(waitCtx(t), queued); !errors.Is(err, jobs.ErrRunnerStopped) {
		t.Fatalf("queued job should fail with ErrRunnerStopped, got %v", err)
	}
}
