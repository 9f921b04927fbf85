package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWorker_StopInterruptsSleep(t *testing.T) {
	w := Start(context.Background(), "sleeper", func(ctx context.Context) error {
		return Sleep(ctx, time.Hour)
	})

	if w.Wait(0) {
		t.Fatal("worker should still be running")
	}
	w.Stop()
	if !w.Wait(time.Second) {
		t.Fatal("worker did not terminate after Stop")
	}
	if !errors.Is(w.Err(), context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", w.Err())
	}
	if w.Running() {
		t.Error("Running should be false after termination")
	}
}

func TestWorker_ErrorIsKept(t *testing.T) {
	boom := errors.New("boom")
	w := Start(context.Background(), "failing", func(ctx context.Context) error {
		return boom
	})
	if !w.Wait(time.Second) {
		t.Fatal("timeout")
	}
	if !errors.Is(w.Err(), boom) {
		t.Errorf("Err = %v, want boom", w.Err())
	}
}

func TestWorker_PanicBecomesError(t *testing.T) {
	w := Start(context.Background(), "panicky", func(ctx context.Context) error {
		panic("bad index")
	})
	if !w.Wait(time.Second) {
		t.Fatal("timeout")
	}
	if w.Err() == nil || !strings.Contains(w.Err().Error(), "bad index") {
		t.Errorf("Err = %v, want panic message", w.Err())
	}
}

func TestWorker_WaitTimeout(t *testing.T) {
	release := make(chan struct{})
	w := Start(context.Background(), "blocked", func(ctx context.Context) error {
		<-release
		return nil
	})
	start := time.Now()
	if w.Wait(20 * time.Millisecond) {
		t.Fatal("Wait should time out")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Wait returned before the timeout")
	}
	close(release)
	if !w.Wait(-1) {
		t.Fatal("unbounded Wait should return true")
	}
	if w.Err() != nil {
		t.Errorf("Err = %v, want nil", w.Err())
	}
}

func TestWorker_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	w := Start(parent, "child", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cancel()
	if !w.Wait(time.Second) {
		t.Fatal("parent cancellation did not stop the worker")
	}
}

func TestSleepUntil_Wake(t *testing.T) {
	wake := make(chan struct{}, 1)
	wake <- struct{}{}
	woken, err := SleepUntil(context.Background(), time.Now().Add(time.Hour), wake)
	if err != nil || !woken {
		t.Errorf("SleepUntil = %v, %v; want true, nil", woken, err)
	}
}

func TestSleepUntil_Deadline(t *testing.T) {
	woken, err := SleepUntil(context.Background(), time.Now().Add(5*time.Millisecond), nil)
	if err != nil || woken {
		t.Errorf("SleepUntil = %v, %v; want false, nil", woken, err)
	}
}
