package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"taskbridge/internal/eventbus"
	logx "taskbridge/pkg/logx"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "runs.db"),
		HistorySize: 100,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppendAndRecent(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)
	ctx := context.Background()

	entries := []Entry{
		{Topic: eventbus.TopicTaskStarted, Origin: "dispatch"},
		{Topic: eventbus.TopicTaskCompleted, Origin: "dispatch", Duration: 120 * time.Millisecond},
		{Topic: eventbus.TopicTaskFailed, Origin: "timer", Error: "panic: boom"},
	}
	for _, e := range entries {
		if err := j.Append(ctx, e); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	got, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent returned %d entries, want 3", len(got))
	}
	// Newest first.
	if got[0].Topic != eventbus.TopicTaskFailed {
		t.Fatalf("newest topic = %q, want %q", got[0].Topic, eventbus.TopicTaskFailed)
	}
	if got[0].Error != "panic: boom" {
		t.Fatalf("error = %q", got[0].Error)
	}
	if got[1].Duration != 120*time.Millisecond {
		t.Fatalf("duration = %v, want 120ms", got[1].Duration)
	}
	if got[0].At.IsZero() {
		t.Fatal("timestamp not defaulted")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.Run(ctx, bus)

	// Give the consumer a moment to subscribe.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(eventbus.Event{
		Topic: eventbus.TopicTaskCompleted,
		Data:  eventbus.TaskEvent{Label: "heartbeat", Origin: "worker"},
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := j.Recent(context.Background(), 1)
		if err != nil {
			t.Fatalf("Recent error: %v", err)
		}
		if len(got) == 1 {
			if got[0].Label != "heartbeat" {
				t.Fatalf("label = %q, want heartbeat", got[0].Label)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("event never reached the journal")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
