// Package tui is a Bubble Tea live view over a multiplexed feed of trace
// events. Each pipeline run or upload target gets one lane.
package tui

import (
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/stockpipe/pkg/trace"
)

// Lane statuses.
const (
	LanePending = "pending"
	LaneRunning = "running"
	LaneSuccess = "success"
	LaneFailed  = "failed"
)

// Lane tracks one source of the feed.
type Lane struct {
	Key      string
	Label    string
	Status   string
	Current  string // step path or upload stage
	Steps    int
	Failed   int
	Skipped  int
	Progress float64
	Message  string
	Duration time.Duration
}

// Model is the Bubble Tea model for the live feed.
type Model struct {
	title   string
	lanes   []*Lane
	byKey   map[string]*Lane
	spinner spinner.Model
	events  int
	done    bool
	err     error
	width   int
}

// NewModel creates an empty feed view.
func NewModel(title string) Model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	return Model{title: title, byKey: map[string]*Lane{}, spinner: sp}
}

// --- Messages ---

// EventMsg delivers one feed event.
type EventMsg struct{ Event trace.Event }

// DoneMsg signals that the feed has ended; Err is the feed's terminal error.
type DoneMsg struct{ Err error }

// Feed drains seq into p from its own goroutine.
func Feed(p *tea.Program, seq iter.Seq2[trace.Event, error]) {
	go func() {
		var feedErr error
		for evt, err := range seq {
			if err != nil {
				feedErr = err
				break
			}
			p.Send(EventMsg{Event: evt})
		}
		p.Send(DoneMsg{Err: feedErr})
	}()
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case EventMsg:
		m.Apply(msg.Event)
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

// Lanes returns the lanes in first-seen order.
func (m Model) Lanes() []Lane {
	out := make([]Lane, len(m.lanes))
	for i, l := range m.lanes {
		out[i] = *l
	}
	return out
}

// Err is the feed's terminal error, if any.
func (m Model) Err() error { return m.err }

func (m *Model) lane(key, label string) *Lane {
	if l, ok := m.byKey[key]; ok {
		return l
	}
	l := &Lane{Key: key, Label: label, Status: LanePending}
	m.byKey[key] = l
	m.lanes = append(m.lanes, l)
	return l
}

// Apply folds one event into the lane state.
func (m *Model) Apply(evt trace.Event) {
	m.events++
	if evt.Type == trace.EventUpload {
		m.applyUpload(evt)
		return
	}

	l := m.lane(evt.RunID, evt.RunID)
	switch evt.Type {
	case trace.EventRunStart:
		if name := evt.String("pipeline"); name != "" {
			l.Label = name
		}
		l.Status = LaneRunning
	case trace.EventStepStart:
		l.Status = LaneRunning
		l.Current = evt.String("step_id")
	case trace.EventStepComplete:
		switch trace.StepStatus(evt.String("status")) {
		case trace.StatusSuccess:
			l.Steps++
		case trace.StatusFailed:
			l.Failed++
			if f, ok := evt.Data["failure"].(map[string]any); ok {
				l.Message, _ = f["message"].(string)
			}
		case trace.StatusSkipped:
			l.Skipped++
		}
	case trace.EventForEachItem:
		if idx, ok := evt.Data["index"].(int); ok {
			l.Message = fmt.Sprintf("item %d: %v", idx, evt.Data["item"])
		}
	case trace.EventRunComplete:
		l.Current = ""
		l.Duration, _ = time.ParseDuration(evt.String("duration"))
		if trace.StepStatus(evt.String("status")) == trace.StatusSuccess {
			l.Status = LaneSuccess
			l.Message = ""
		} else {
			l.Status = LaneFailed
			if msg := evt.String("error"); msg != "" {
				l.Message = msg
			}
		}
	}
}

func (m *Model) applyUpload(evt trace.Event) {
	target := evt.String("target")
	l := m.lane("upload:"+target, target)
	l.Current = evt.String("stage")
	if p, ok := evt.Data["progress"].(float64); ok {
		l.Progress = p
	}
	l.Message = evt.String("message")
	switch l.Current {
	case "done":
		l.Status = LaneSuccess
	case "failed":
		l.Status = LaneFailed
	default:
		l.Status = LaneRunning
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	b.WriteString(headerStyle.Render("  stockpipe: " + m.title))
	b.WriteString("\n\n")

	labelWidth := 12
	for _, l := range m.lanes {
		if w := runewidth.StringWidth(l.Label); w > labelWidth {
			labelWidth = w
		}
	}
	if labelWidth > 32 {
		labelWidth = 32
	}

	for _, l := range m.lanes {
		icon := m.laneIcon(l.Status)
		label := runewidth.FillRight(runewidth.Truncate(l.Label, labelWidth, "…"), labelWidth)
		line := fmt.Sprintf("  %s %s  %s", icon, label, laneDetail(l))
		if l.Message != "" {
			line += "  " + dimStyle.Render(truncate(l.Message, 60))
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n")
	switch {
	case m.done && m.err != nil:
		failStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
		b.WriteString(failStyle.Render("  ✗ " + m.err.Error()))
	case m.done:
		okStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("40"))
		b.WriteString(okStyle.Render(fmt.Sprintf("  ✓ done (%d events)", m.events)))
	default:
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %d events  q: quit", m.events)))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) laneIcon(status string) string {
	switch status {
	case LaneRunning:
		return m.spinner.View()
	case LaneSuccess:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("40")).Render("✓")
	case LaneFailed:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	default:
		return "○"
	}
}

func laneDetail(l *Lane) string {
	if strings.HasPrefix(l.Key, "upload:") {
		return fmt.Sprintf("%-9s %3.0f%%", l.Current, l.Progress*100)
	}
	detail := fmt.Sprintf("%d ok", l.Steps)
	if l.Skipped > 0 {
		detail += fmt.Sprintf(", %d skipped", l.Skipped)
	}
	if l.Failed > 0 {
		detail += fmt.Sprintf(", %d failed", l.Failed)
	}
	if l.Current != "" {
		detail += "  " + l.Current
	}
	if l.Duration > 0 {
		detail += "  " + l.Duration.Truncate(time.Millisecond).String()
	}
	return detail
}

func truncate(s string, max int) string {
	return runewidth.Truncate(s, max, "…")
}
