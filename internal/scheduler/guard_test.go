package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bsm/redislock"
)

func TestExclusive(t *testing.T) {
	held := NewLocalGuard()
	releaseHeld, ok, _ := held.TryAcquire(context.Background())
	if !ok {
		t.Fatal("Expected to acquire a fresh guard")
	}
	defer releaseHeld()

	testCases := []struct {
		name    string
		guard   Guard
		wantErr error
		wantRan bool
	}{
		{"free guard", NewLocalGuard(), nil, true},
		{"held guard", held, ErrPassRunning, false},
		{"held inside a chain", ChainGuard{NewLocalGuard(), held}, ErrPassRunning, false},
		{"guard error", failingGuard{}, nil, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ran := false
			err := Exclusive(context.Background(), tc.guard, func(context.Context) { ran = true })

			if ran != tc.wantRan {
				t.Errorf("Expected ran=%v, got %v", tc.wantRan, ran)
			}
			switch {
			case tc.wantErr != nil && !errors.Is(err, tc.wantErr):
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			case tc.wantRan && err != nil:
				t.Errorf("Expected no error, got %v", err)
			case !tc.wantRan && err == nil:
				t.Error("Expected an error when fn did not run")
			}
		})
	}
}

func TestExclusive_ReleasesAfterRun(t *testing.T) {
	g := NewLocalGuard()
	for i := 0; i < 2; i++ {
		if err := Exclusive(context.Background(), g, func(context.Context) {}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
}

func TestKeepAlive_RefreshesUntilStopped(t *testing.T) {
	calls := make(chan struct{}, 16)
	stop := keepAlive(time.Millisecond, func(context.Context) error {
		calls <- struct{}{}
		return nil
	})

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatalf("Expected refresh %d", i+1)
		}
	}
	stop()

	// drain refreshes that raced with stop, then nothing else may arrive
	for len(calls) > 0 {
		<-calls
	}
	select {
	case <-calls:
		t.Error("Expected no refresh after stop")
	default:
	}
}

func TestKeepAlive_StopsWhenLockLost(t *testing.T) {
	calls := 0
	lost := make(chan struct{})
	stop := keepAlive(time.Millisecond, func(context.Context) error {
		calls++
		if calls == 1 {
			close(lost)
		}
		return redislock.ErrNotObtained
	})

	select {
	case <-lost:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected a refresh attempt")
	}
	stop()
	if calls != 1 {
		t.Errorf("Expected refreshing to end after the lock was lost, got %d calls", calls)
	}
}
