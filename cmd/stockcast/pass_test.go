package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/scheduler"
	"github.com/urfave/cli/v2"
)

type countingRunner struct {
	dates []time.Time
}

func (r *countingRunner) Run(ctx context.Context, asOf time.Time) domain.PassReport {
	r.dates = append(r.dates, asOf)
	return domain.PassReport{AsOf: asOf, Processed: 1}
}

func TestRunExclusive_RefusesWhileGuardHeld(t *testing.T) {
	tests := []struct {
		name  string
		guard func(held scheduler.Guard) scheduler.Guard
	}{
		{"local guard", func(held scheduler.Guard) scheduler.Guard { return held }},
		{"chain guard", func(held scheduler.Guard) scheduler.Guard {
			return scheduler.ChainGuard{scheduler.NewLocalGuard(), held}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			held := scheduler.NewLocalGuard()
			release, ok, _ := held.TryAcquire(context.Background())
			if !ok {
				t.Fatal("could not take the guard")
			}

			runner := &countingRunner{}
			day := mustDate(t, "2024-03-01")
			reports, err := runExclusive(context.Background(), tt.guard(held), runner, day, day)

			var exit cli.ExitCoder
			if !errors.As(err, &exit) || exit.ExitCode() != 3 {
				t.Fatalf("expected exit code 3, got %v", err)
			}
			if err.Error() != scheduler.ErrPassRunning.Error() {
				t.Errorf("message = %q", err.Error())
			}
			if len(runner.dates) != 0 || reports != nil {
				t.Errorf("expected no pass, got %d runs", len(runner.dates))
			}

			release()
			if _, err := runExclusive(context.Background(), tt.guard(held), runner, day, day); err != nil {
				t.Fatalf("after release: %v", err)
			}
			if len(runner.dates) != 1 {
				t.Errorf("expected one pass after release, got %d", len(runner.dates))
			}
		})
	}
}

func TestRunExclusive_RunsEachDayInOrder(t *testing.T) {
	guard := scheduler.NewLocalGuard()
	runner := &countingRunner{}
	from := mustDate(t, "2024-02-28")

	reports, err := runExclusive(context.Background(), guard, runner, from, domain.AddDays(from, 2))
	if err != nil {
		t.Fatalf("runExclusive: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(reports))
	}
	for i, d := range runner.dates {
		if !d.Equal(domain.AddDays(from, i)) {
			t.Errorf("run %d as of %s", i, d.Format(domain.DateLayout))
		}
	}

	// released once the range is done
	if _, ok, _ := guard.TryAcquire(context.Background()); !ok {
		t.Error("expected the guard to be released")
	}
}

func TestRunExclusive_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	from := mustDate(t, "2024-03-01")
	runner := scheduler.RunnerFunc(func(ctx context.Context, asOf time.Time) domain.PassReport {
		cancel()
		return domain.PassReport{AsOf: asOf}
	})

	reports, err := runExclusive(ctx, scheduler.NewLocalGuard(), runner, from, domain.AddDays(from, 5))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(reports) != 1 {
		t.Errorf("expected the range to stop after one day, got %d", len(reports))
	}
}
