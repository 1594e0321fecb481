package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"invitebot/pkg/logx"
)

func TestAddOnceFires(t *testing.T) {
	s := New(logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	fired := make(chan struct{})
	s.AddOnce("t", 10*time.Millisecond, func(context.Context) { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot trigger never fired")
	}
	if s.PendingOnce() != 0 {
		t.Errorf("PendingOnce = %d after firing, want 0", s.PendingOnce())
	}
}

func TestAddOnceReplacesSameName(t *testing.T) {
	s := New(logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var first, second atomic.Bool
	done := make(chan struct{})
	s.AddOnce("t", 20*time.Millisecond, func(context.Context) { first.Store(true) })
	s.AddOnce("t", 10*time.Millisecond, func(context.Context) {
		second.Store(true)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement trigger never fired")
	}
	time.Sleep(50 * time.Millisecond)
	if first.Load() {
		t.Error("replaced trigger still fired")
	}
	if !second.Load() {
		t.Error("replacement trigger did not fire")
	}
}

func TestRemoveOnce(t *testing.T) {
	s := New(logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var fired atomic.Bool
	s.AddOnce("t", 20*time.Millisecond, func(context.Context) { fired.Store(true) })

	if !s.RemoveOnce("t") {
		t.Fatal("RemoveOnce did not find the pending trigger")
	}
	if s.RemoveOnce("t") {
		t.Error("RemoveOnce found an already-removed trigger")
	}
	time.Sleep(60 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled trigger fired")
	}
}

func TestStopCancelsPending(t *testing.T) {
	s := New(logx.Nop())
	s.Start(context.Background())

	var fired atomic.Bool
	s.AddOnce("t", 30*time.Millisecond, func(context.Context) { fired.Store(true) })
	s.Stop(context.Background())

	time.Sleep(80 * time.Millisecond)
	if fired.Load() {
		t.Error("trigger fired after Stop")
	}
	if s.PendingOnce() != 0 {
		t.Errorf("PendingOnce = %d after Stop, want 0", s.PendingOnce())
	}
}

func TestJobPanicIsIsolated(t *testing.T) {
	s := New(logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	done := make(chan struct{})
	s.AddOnce("boom", time.Millisecond, func(context.Context) { panic("boom") })
	s.AddOnce("ok", 20*time.Millisecond, func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("panic in one job broke the next")
	}
}
