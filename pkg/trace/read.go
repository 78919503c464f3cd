package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// Read parses a JSONL trace stream.
func Read(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return events, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, evt)
	}
	return events, scanner.Err()
}

// ReadFile parses the JSONL trace at path.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// RunSummary aggregates one run's events.
type RunSummary struct {
	RunID    string         `json:"run_id"`
	Pipeline string         `json:"pipeline,omitempty"`
	Status   string         `json:"status,omitempty"` // empty while the run is incomplete
	Steps    map[string]int `json:"steps"`            // by step status
	Failures []string       `json:"failures,omitempty"`
	Duration string         `json:"duration,omitempty"`
}

// Summarize groups events by run, in order of each run's first event.
// Upload events are not part of any run and are ignored.
func Summarize(events []Event) []RunSummary {
	index := map[string]int{}
	var out []RunSummary
	for _, evt := range events {
		if evt.Type == EventUpload {
			continue
		}
		i, ok := index[evt.RunID]
		if !ok {
			i = len(out)
			index[evt.RunID] = i
			out = append(out, RunSummary{RunID: evt.RunID, Steps: map[string]int{}})
		}
		s := &out[i]
		switch evt.Type {
		case EventRunStart:
			s.Pipeline = evt.String("pipeline")
		case EventStepComplete:
			status := evt.String("status")
			s.Steps[status]++
			if status == string(StatusFailed) {
				msg := evt.String("step_id")
				if f, ok := evt.Data["failure"].(map[string]any); ok {
					msg += ": " + fmt.Sprint(f["message"])
				}
				s.Failures = append(s.Failures, msg)
			}
		case EventRunComplete:
			s.Status = evt.String("status")
			s.Duration = evt.String("duration")
		}
	}
	return out
}

// StatusCounts renders counts as "success=3 skipped=1" in key order.
func (s RunSummary) StatusCounts() string {
	keys := make([]string, 0, len(s.Steps))
	for k := range s.Steps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", k, s.Steps[k])
	}
	return out
}
