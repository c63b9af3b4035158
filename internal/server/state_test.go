package server

import (
	"context"
	"testing"
	"time"
)

func TestStateMachineTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []SessionState
		want []bool
	}{
		{"normal", []SessionState{StateActive, StateFinalizing, StateClosed}, []bool{true, true, true}},
		{"rejected", []SessionState{StateClosed}, []bool{true}},
		{"skip finalizing", []SessionState{StateActive, StateClosed}, []bool{true, false}},
		{"no reopen", []SessionState{StateActive, StateFinalizing, StateClosed, StateActive}, []bool{true, true, true, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := newStateMachine()
			for i, to := range tt.path {
				if got := sm.Transition(to); got != tt.want[i] {
					t.Fatalf("step %d %s -> %s = %v", i, sm.Current(), to, got)
				}
			}
		})
	}
}

func TestTrackerCancelAndWait(t *testing.T) {
	tr := NewTracker()
	canceled := make(chan string, 2)

	unA, _ := tr.Register("a", Handle{Cancel: func() { canceled <- "a" }})
	unB, _ := tr.Register("b", Handle{Cancel: func() { canceled <- "b" }})
	if tr.Count() != 2 {
		t.Fatalf("count = %d", tr.Count())
	}

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled = %d", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatal("Wait must time out while sessions are registered")
	}

	unA()
	unA()
	unB()
	if !tr.Wait(context.Background()) {
		t.Fatal("Wait must succeed after all sessions unregistered")
	}
	if tr.Count() != 0 {
		t.Fatalf("count = %d", tr.Count())
	}
}

func TestTrackerReplacesDuplicateID(t *testing.T) {
	tr := NewTracker()
	first, _ := tr.Register("x", Handle{})
	second, _ := tr.Register("x", Handle{})
	first()
	if tr.Count() != 1 {
		t.Fatalf("stale unregister removed the new session")
	}
	second()
	if !tr.Wait(context.Background()) {
		t.Fatal("wait failed")
	}
}

func TestTrackerRejectsRegistrationAfterClose(t *testing.T) {
	tr := NewTracker()
	un, ok := tr.Register("a", Handle{})
	if !ok {
		t.Fatal("register before close failed")
	}

	waited := make(chan bool)
	go func() { waited <- tr.Wait(context.Background()) }()

	// Wait closes the tracker before it blocks; poll until it does.
	deadline := time.Now().Add(time.Second)
	for {
		unlate, ok := tr.Register("late", Handle{})
		if !ok {
			break
		}
		unlate()
		if time.Now().After(deadline) {
			t.Fatal("tracker still accepts registrations while waiting")
		}
		time.Sleep(time.Millisecond)
	}
	if tr.Count() != 1 {
		t.Fatalf("count = %d", tr.Count())
	}

	un()
	if !<-waited {
		t.Fatal("wait failed")
	}
}

func TestTrackerClose(t *testing.T) {
	tr := NewTracker()
	tr.Close()
	if _, ok := tr.Register("a", Handle{}); ok {
		t.Fatal("closed tracker accepted a session")
	}
	if !tr.Wait(context.Background()) {
		t.Fatal("wait on empty tracker failed")
	}
}
