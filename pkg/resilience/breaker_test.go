package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/WessleyAI/vanfleet/pkg/fn"
)

var errFail = errors.New("fail")

func failing(context.Context) error { return errFail }
func ok(context.Context) error      { return nil }

func TestBreakerTripsAfterThreshold(t *testing.T) {
	var transitions []string
	b := NewBreaker(BreakerOpts{
		Name: "store", FailThreshold: 3, Timeout: time.Second,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+">"+to.String())
		},
	})
	ctx := context.Background()
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
	for range 3 {
		_ = b.Call(ctx, failing)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}
	err := b.Call(ctx, ok)
	if !errors.Is(err, ErrCircuitOpen) || err.Error() != "store: circuit breaker is open" {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if len(transitions) != 1 || transitions[0] != "store:closed>open" {
		t.Fatalf("transitions = %v", transitions)
	}
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Timeout: time.Second})
	ctx := context.Background()
	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, ok)
	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, failing)
	if b.State() != StateClosed {
		t.Fatalf("expected still closed, got %v", b.State())
	}
}

func TestBreakerIgnoresPermanentErrors(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Second})
	err := b.Call(context.Background(), func(context.Context) error { return fn.Permanent(errFail) })
	if !errors.Is(err, errFail) {
		t.Fatalf("err = %v", err)
	}
	if b.State() != StateClosed {
		t.Fatal("permanent errors must not trip the breaker")
	}
}

func TestBreakerHalfOpen(t *testing.T) {
	tests := []struct {
		name  string
		probe func(context.Context) error
		want  State
	}{
		{"probe succeeds", ok, StateClosed},
		{"probe fails", failing, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Now()
			b := NewBreaker(BreakerOpts{FailThreshold: 2, Timeout: 5 * time.Second, HalfOpenMax: 1})
			b.now = func() time.Time { return now }
			ctx := context.Background()
			_ = b.Call(ctx, failing)
			_ = b.Call(ctx, failing)

			now = now.Add(6 * time.Second)
			if b.State() != StateHalfOpen {
				t.Fatalf("expected half-open, got %v", b.State())
			}
			_ = b.Call(ctx, tt.probe)
			if b.State() != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, b.State())
			}
		})
	}
}

func TestDoAndBreakerStage(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 2, Timeout: time.Second})
	ctx := context.Background()

	v, err := Do(b, ctx, func(context.Context) (int, error) { return 7, nil })
	if v != 7 || err != nil {
		t.Fatalf("Do = %d, %v", v, err)
	}

	stage := BreakerStage(b, func(context.Context, int) fn.Result[int] { return fn.Err[int](errFail) })
	_ = stage(ctx, 1)
	_ = stage(ctx, 2)
	r := stage(ctx, 3)
	if !errors.Is(r.Error(), ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", r.Error())
	}
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 2})
	if !l.Allow() || !l.Allow() {
		t.Fatal("burst tokens must be available")
	}
	if l.Allow() {
		t.Fatal("bucket must be empty")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Wait = %v", err)
	}

	unlimited := NewLimiter(LimiterOpts{})
	stage := LimitStage(unlimited, func(_ context.Context, n int) fn.Result[int] { return fn.Ok(n) })
	for i := range 100 {
		if v, _ := stage(context.Background(), i).Unwrap(); v != i {
			t.Fatal("unlimited stage must pass through")
		}
	}
}
