package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

var errBoom = errors.New("boom")

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	var transitions []string
	cb := New("gen", Config{
		FailureThreshold: 2,
		Cooldown:         time.Minute,
		Now:              clock.Now,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatal("opened after one failure")
	}
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatal("expected open after two failures")
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("err = %v, called = %v", err, called)
	}

	clock.t = clock.t.Add(time.Minute)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatal(err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New("gen", Config{FailureThreshold: 2})
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatal("non-consecutive failures opened the breaker")
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := New("gen", Config{FailureThreshold: 1, Cooldown: time.Second, Now: clock.Now})

	_ = cb.Execute(fail)
	clock.t = clock.t.Add(time.Second)
	if err := cb.Execute(fail); !errors.Is(err, errBoom) {
		t.Fatalf("probe err = %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}
}

func TestIsFailureFiltersErrors(t *testing.T) {
	ignored := errors.New("caller error")
	cb := New("gen", Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return err != nil && !errors.Is(err, ignored) },
	})
	if err := cb.Execute(func() error { return ignored }); !errors.Is(err, ignored) {
		t.Fatalf("err = %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatal("ignored error opened the breaker")
	}
}
