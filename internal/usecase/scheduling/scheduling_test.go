package scheduling

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseScheduleCron(t *testing.T) {
	sched, err := parseSchedule("*/10 * * * *")
	if err != nil {
		t.Fatalf("parseSchedule: %v", err)
	}
	at := time.Date(2026, 3, 1, 12, 3, 0, 0, time.UTC)
	next := sched.Next(at)
	want := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestParseScheduleDuration(t *testing.T) {
	sched, err := parseSchedule("30m")
	if err != nil {
		t.Fatalf("parseSchedule: %v", err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if next := sched.Next(at); !next.Equal(at.Add(30 * time.Minute)) {
		t.Errorf("Next = %v, want +30m", next)
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	for _, bad := range []string{"", "not a schedule", "-5m", "0s"} {
		if _, err := parseSchedule(bad); err == nil {
			t.Errorf("parseSchedule(%q) = nil error, want failure", bad)
		}
	}
}

func TestAddTaskUnknownAction(t *testing.T) {
	s := NewScheduler(slog.Default())
	err := s.AddTask(ScheduledTask{Name: "mystery", Schedule: "1h", Action: "mystery"})
	if err == nil {
		t.Fatal("AddTask with unregistered action should fail")
	}
}

func TestAddTaskInvalidSchedule(t *testing.T) {
	s := NewScheduler(slog.Default())
	s.RegisterAction(ActionRank, func(ctx context.Context) error { return nil })
	err := s.AddTask(ScheduledTask{Name: "rank", Schedule: "whenever", Action: ActionRank})
	if err == nil {
		t.Fatal("AddTask with bad schedule should fail")
	}
}

func TestSchedulerRunsTask(t *testing.T) {
	s := NewScheduler(slog.Default())

	var runs atomic.Int32
	s.RegisterAction(ActionParse, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	if err := s.AddTask(ScheduledTask{Name: "parse", Schedule: "10ms", Action: ActionParse}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("task never ran")
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	s := NewScheduler(slog.Default())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
