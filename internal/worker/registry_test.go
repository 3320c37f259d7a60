package worker

import (
	"context"
	"testing"
	"time"
)

func TestRegistryInterruptCancelsRun(t *testing.T) {
	r := NewCancelRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	r.Register("sess-1", cancel)
	if !r.Live("sess-1") {
		t.Fatal("registered session not live")
	}

	done, ok := r.Interrupt("sess-1")
	if !ok {
		t.Fatal("interrupt did not find the session")
	}
	if ctx.Err() == nil {
		t.Error("interrupt did not cancel the run context")
	}

	select {
	case <-done:
		t.Fatal("done closed before Finish")
	default:
	}

	r.Finish("sess-1")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done not closed by Finish")
	}

	if r.Live("sess-1") {
		t.Error("session still live after Finish")
	}
}

func TestRegistryInterruptUnknown(t *testing.T) {
	r := NewCancelRegistry()
	if _, ok := r.Interrupt("nope"); ok {
		t.Error("interrupt reported a session that was never registered")
	}
}

func TestRegistryInterruptedFlag(t *testing.T) {
	r := NewCancelRegistry()
	_, cancel := context.WithCancel(context.Background())
	r.Register("sess-3", cancel)

	if r.Interrupted("sess-3") {
		t.Error("flag set before interrupt")
	}
	r.Interrupt("sess-3")
	if !r.Interrupted("sess-3") {
		t.Error("flag not set by interrupt")
	}

	r.Finish("sess-3")
	if r.Interrupted("sess-3") {
		t.Error("flag reported for a finished session")
	}
}

func TestRegistryFinishUnblocksAllWaiters(t *testing.T) {
	r := NewCancelRegistry()
	_, cancel := context.WithCancel(context.Background())
	r.Register("sess-2", cancel)

	first, _ := r.Interrupt("sess-2")
	second, _ := r.Interrupt("sess-2")

	r.Finish("sess-2")
	for _, ch := range []<-chan struct{}{first, second} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("waiter never unblocked")
		}
	}
}
