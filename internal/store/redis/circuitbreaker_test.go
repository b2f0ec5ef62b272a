package redis

import (
	"errors"
	"sync"
	"testing"
	"time"

	"stock-analyzerv1/internal/model"
)

var errFail = errors.New("fail")

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Execute(func() error { return errFail })
	}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %v", cb.CurrentState())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if err != ErrCircuitOpen || called {
		t.Errorf("expected rejection without call, got err=%v called=%v", err, called)
	}
	if !errors.Is(err, model.ErrTransient) {
		t.Error("ErrCircuitOpen should match ErrTransient")
	}
	if cb.Trips() != 1 {
		t.Errorf("expected 1 trip, got %d", cb.Trips())
	}
}

func TestCircuitBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	errMiss := errors.New("miss")
	cb := NewCircuitBreaker(1, time.Second)
	cb.IsFailure = func(err error) bool { return err != errMiss }

	for i := 0; i < 5; i++ {
		if err := cb.Execute(func() error { return errMiss }); err != errMiss {
			t.Fatalf("expected errMiss passed through, got %v", err)
		}
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	var mu sync.Mutex
	var transitions []State
	cb := NewCircuitBreaker(2, 50*time.Millisecond)
	cb.OnStateChange = func(_, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	}

	trip(cb, 2)
	time.Sleep(60 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected trial request to succeed, got %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Fatalf("expected closed after trial request, got %v", cb.CurrentState())
	}
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions=%v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions=%v, want %v", transitions, want)
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 50*time.Millisecond)
	trip(cb, 2)
	time.Sleep(60 * time.Millisecond)
	cb.Execute(func() error { return errFail })

	if cb.CurrentState() != StateOpen {
		t.Errorf("expected open after failed trial request, got %v", cb.CurrentState())
	}
	if cb.Trips() != 2 {
		t.Errorf("expected 2 trips, got %d", cb.Trips())
	}
}

func TestCircuitBreaker_SingleTrialRequest(t *testing.T) {
	cb := NewCircuitBreaker(1, 20*time.Millisecond)
	trip(cb, 1)
	time.Sleep(30 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go cb.Execute(func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	if err := cb.Execute(func() error { return nil }); err != ErrCircuitOpen {
		t.Errorf("second call during the trial request should be rejected, got %v", err)
	}
	close(release)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	trip(cb, 2)
	cb.Execute(func() error { return nil })
	trip(cb, 2)

	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed (counter reset), got %v", cb.CurrentState())
	}
}
