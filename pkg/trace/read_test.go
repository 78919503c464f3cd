package trace

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRead_RoundTripAndSummarize(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf)
	for _, evt := range []Event{
		RunStart("a", "posters", nil),
		RunStart("b", "hello", nil),
		StepComplete("a", "steps[0]", "crop", StatusSuccess, time.Millisecond, nil),
		StepComplete("a", "steps[1]", "chat", StatusSkipped, 0, nil),
		NewEvent(EventUpload, "u", map[string]any{"target": "drop", "stage": "done"}),
		StepComplete("b", "steps[0]", "chat", StatusFailed, 0, &Failure{Kind: "action", Message: "rate limited"}),
		RunComplete("a", StatusSuccess, time.Second, nil),
		RunComplete("b", StatusFailed, time.Second, errors.New("steps[0]: rate limited")),
	} {
		if err := tw.Write(evt); err != nil {
			t.Fatal(err)
		}
	}
	buf.WriteString("\n")

	events, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 8 {
		t.Fatalf("got %d events, want 8", len(events))
	}

	runs := Summarize(events)
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Pipeline != "posters" || runs[0].Status != "success" {
		t.Errorf("run a = %+v", runs[0])
	}
	if got := runs[0].StatusCounts(); got != "skipped=1 success=1" {
		t.Errorf("StatusCounts = %q", got)
	}
	if len(runs[1].Failures) != 1 || runs[1].Failures[0] != "steps[0]: rate limited" {
		t.Errorf("failures = %v", runs[1].Failures)
	}
}

func TestRead_BadLine(t *testing.T) {
	_, err := Read(strings.NewReader("{\"type\":\"run_start\"}\nnot json\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected line 2 error, got %v", err)
	}
}
