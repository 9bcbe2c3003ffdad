package timectrl

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClockSetAdvance(t *testing.T) {
	c := NewClock()
	if got := c.Now(); got != 0 {
		t.Fatalf("Now() = %d, want 0", got)
	}
	c.Set(10)
	c.Advance(5)
	if got := c.Now(); got != 15 {
		t.Fatalf("Now() = %d, want 15", got)
	}
	c.Advance(1)
	if got := c.Now(); got != 16 {
		t.Fatalf("Now() = %d, want 16", got)
	}
}

func TestClocksAreIndependent(t *testing.T) {
	a, b := NewClock(), NewClock()
	a.Set(42)
	if got := b.Now(); got != 0 {
		t.Fatalf("second clock observed %d, want 0", got)
	}
}

func TestRunForCompletes(t *testing.T) {
	tc := NewTimeController(nil, 1000, Accelerated)

	var seen []int64
	tc.AddListener(func(now int64) { seen = append(seen, now) })

	done, err := tc.RunFor(context.Background(), 5)
	if err != nil {
		t.Fatalf("RunFor: %v", err)
	}
	<-done

	if got := tc.Now(); got != 5 {
		t.Fatalf("Now() = %d, want 5", got)
	}
	if tc.Running() {
		t.Fatalf("expected controller to stop running after RunFor")
	}
	want := []int64{0, 1, 2, 3, 4}
	if len(seen) != len(want) {
		t.Fatalf("listener saw %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("listener saw %v, want %v", seen, want)
		}
	}
}

func TestRunForContinuesFromCurrentTick(t *testing.T) {
	clock := NewClock()
	clock.Set(100)
	tc := NewTimeController(clock, 1000, Accelerated)

	done, err := tc.RunFor(context.Background(), 3)
	if err != nil {
		t.Fatalf("RunFor: %v", err)
	}
	<-done
	if got := clock.Now(); got != 103 {
		t.Fatalf("Now() = %d, want 103", got)
	}
}

func TestPauseResume(t *testing.T) {
	tc := NewTimeController(nil, 1000, Accelerated, WithPollInterval(time.Millisecond))

	tc.AddListener(func(now int64) {
		if now == 3 {
			tc.Pause()
		}
	})

	done, err := tc.RunFor(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunFor: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !tc.Paused() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !tc.Paused() {
		t.Fatalf("expected controller to be paused")
	}

	time.Sleep(20 * time.Millisecond)
	if got := tc.Now(); got != 4 {
		t.Fatalf("paused at tick %d, want 4", got)
	}
	if !tc.Running() {
		t.Fatalf("paused controller should still report running")
	}

	tc.Resume()
	<-done
	if got := tc.Now(); got != 10 {
		t.Fatalf("Now() after resume = %d, want 10", got)
	}
}

func TestRunResumesPausedLoop(t *testing.T) {
	tc := NewTimeController(nil, 1000, Accelerated, WithPollInterval(time.Millisecond))
	tc.AddListener(func(now int64) {
		if now == 1 {
			tc.Pause()
		}
	})

	done, err := tc.RunFor(context.Background(), 4)
	if err != nil {
		t.Fatalf("RunFor: %v", err)
	}
	for !tc.Paused() {
		time.Sleep(time.Millisecond)
	}

	again, err := tc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run on paused controller: %v", err)
	}
	if again != done {
		t.Fatalf("expected Run to resume the existing loop")
	}
	<-done
	if got := tc.Now(); got != 4 {
		t.Fatalf("Now() = %d, want 4", got)
	}
}

func TestStopEndsUnboundedRun(t *testing.T) {
	tc := NewTimeController(nil, 1000, Accelerated, WithPollInterval(time.Millisecond))
	tc.AddListener(func(now int64) {
		if now == 7 {
			tc.Stop()
		}
	})

	done, err := tc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-done

	stopped := tc.Now()
	if stopped != 8 {
		t.Fatalf("stopped at tick %d, want 8", stopped)
	}
	time.Sleep(10 * time.Millisecond)
	if got := tc.Now(); got != stopped {
		t.Fatalf("clock advanced after stop: %d != %d", got, stopped)
	}
}

func TestStopWhilePaused(t *testing.T) {
	tc := NewTimeController(nil, 1000, Accelerated, WithPollInterval(time.Millisecond))
	tc.AddListener(func(now int64) {
		if now == 0 {
			tc.Pause()
		}
	})

	done, err := tc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for !tc.Paused() {
		time.Sleep(time.Millisecond)
	}
	tc.Stop()
	<-done
	if tc.Running() || tc.Paused() {
		t.Fatalf("expected controller idle after stop, running=%v paused=%v", tc.Running(), tc.Paused())
	}
}

func TestSecondRunRejected(t *testing.T) {
	tc := NewTimeController(nil, 1000, Accelerated)
	release := make(chan struct{})
	tc.AddListener(func(int64) { <-release })

	done, err := tc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := tc.RunFor(context.Background(), 1); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second run error = %v, want ErrAlreadyRunning", err)
	}

	tc.Stop()
	close(release)
	<-done
}

func TestContextCancelStopsRun(t *testing.T) {
	tc := NewTimeController(nil, 1000, Accelerated)
	ctx, cancel := context.WithCancel(context.Background())
	tc.AddListener(func(now int64) {
		if now == 2 {
			cancel()
		}
	})

	done, err := tc.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-done
	if got := tc.Now(); got != 3 {
		t.Fatalf("Now() = %d, want 3", got)
	}
}

func TestRealTimeModePacesTicks(t *testing.T) {
	tc := NewTimeController(nil, 200, RealTime)

	start := time.Now()
	done, err := tc.RunFor(context.Background(), 5)
	if err != nil {
		t.Fatalf("RunFor: %v", err)
	}
	<-done

	// Burst of one: the first tick is immediate, the remaining four wait
	// 5ms each.
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("realtime run finished in %v, expected pacing", elapsed)
	}
	if got := tc.Now(); got != 5 {
		t.Fatalf("Now() = %d, want 5", got)
	}
}

func TestModeString(t *testing.T) {
	if RealTime.String() != "realtime" || Accelerated.String() != "accelerated" {
		t.Fatalf("unexpected mode strings: %s %s", RealTime, Accelerated)
	}
	if Mode(9).String() != "unknown" {
		t.Fatalf("unexpected string for invalid mode")
	}
}
