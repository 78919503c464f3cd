package main

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stockpipe/pkg/actions"
	"github.com/ormasoftchile/stockpipe/pkg/engine"
	"github.com/ormasoftchile/stockpipe/pkg/logging"
	"github.com/ormasoftchile/stockpipe/pkg/metrics"
	"github.com/ormasoftchile/stockpipe/pkg/mux"
	"github.com/ormasoftchile/stockpipe/pkg/runner"
	"github.com/ormasoftchile/stockpipe/pkg/trace"
	"github.com/ormasoftchile/stockpipe/pkg/tui"
)

var (
	runInput       string
	runVars        []string
	runDryRun      bool
	runTrace       string
	runTUI         bool
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run [pipeline.yaml...]",
	Short: "Run one or more pipelines",
	Long: `Run one or more pipelines. Several pipelines run concurrently and their
progress is merged into one feed; a failed pipeline does not stop the others.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

// observability bundles the sinks every event goes to besides the feed.
type observability struct {
	trace    *trace.Writer
	recorder *metrics.Recorder
	registry *prometheus.Registry
}

func newObservability(ctx context.Context, tracePath, metricsAddr string, log *slog.Logger) (*observability, error) {
	o := &observability{registry: prometheus.NewRegistry()}
	o.recorder = metrics.NewRecorder(o.registry)
	if tracePath != "" {
		tw, err := trace.NewFileWriter(tracePath)
		if err != nil {
			return nil, err
		}
		tw.SetSecrets(settings.Secrets()...)
		o.trace = tw
	}
	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, metricsAddr, o.registry, log); err != nil {
				log.Error("metrics server", "error", err)
			}
		}()
	}
	return o, nil
}

func (o *observability) observe(evt trace.Event) {
	o.recorder.Observe(evt)
}

func (o *observability) Close() error {
	if o.trace == nil {
		return nil
	}
	return o.trace.Close()
}

func runRun(cmd *cobra.Command, args []string) error {
	vars, err := runner.ParseVars(runVars)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	log := logger
	if runTUI {
		log = logging.Discard()
	}
	obs, err := newObservability(ctx, runTrace, runMetricsAddr, log)
	if err != nil {
		return err
	}
	defer obs.Close()

	imageGate, chatGate := actions.NewGate(1), actions.NewGate(1)
	var streams []mux.Stream[trace.Event, *engine.RunResult]
	for _, path := range args {
		pr, err := runner.Prepare(runner.Options{
			Path:      path,
			Input:     runInput,
			Vars:      vars,
			DryRun:    runDryRun,
			Settings:  settings,
			ImageGate: imageGate,
			ChatGate:  chatGate,
			Trace:     obs.trace,
			Observer:  obs.observe,
			Logger:    log,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		printValidationWarnings(pr.Warnings)
		streams = append(streams, pr.Stream())
	}

	combined := mux.Combine(streams...)
	var feedErr error
	if runTUI {
		feedCtx, stop := context.WithCancel(ctx)
		defer stop()
		feedErr = runFeedTUI(title(args), combined.All(feedCtx), stop)
	} else {
		feedErr = printFeed(combined.All(ctx))
	}

	failed := 0
	for i, r := range combined.Results() {
		if r == nil {
			fmt.Println(failStyle.Render(fmt.Sprintf("✗ %s: did not complete", args[i])))
			failed++
			continue
		}
		if r.Error != nil {
			fmt.Println(failStyle.Render(fmt.Sprintf("✗ %s: %v", r.Name, r.Error)))
			failed++
			continue
		}
		fmt.Println(okStyle.Render(fmt.Sprintf("✓ %s: %d steps, %d skipped in %s", r.Name, r.Steps, r.Skipped, r.Duration.Round(time.Millisecond))))
	}
	if feedErr != nil {
		return feedErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d pipeline(s) failed", failed, len(args))
	}
	return nil
}

// printFeed prints one line per finished step and run.
func printFeed(seq iter.Seq2[trace.Event, error]) error {
	names := map[string]string{}
	for evt, err := range seq {
		if err != nil {
			return err
		}
		switch evt.Type {
		case trace.EventRunStart:
			names[evt.RunID] = evt.String("pipeline")
		case trace.EventStepComplete:
			fmt.Println(stepLine(names[evt.RunID], evt))
		}
	}
	return nil
}

func stepLine(pipeline string, evt trace.Event) string {
	prefix := dimStyle.Render(fmt.Sprintf("[%s]", pipeline))
	id := evt.String("step_id")
	kind := evt.String("kind")
	switch trace.StepStatus(evt.String("status")) {
	case trace.StatusSuccess:
		return fmt.Sprintf("%s %s %s (%s) %s", prefix, okStyle.Render("✓"), id, kind, dimStyle.Render(evt.String("duration")))
	case trace.StatusSkipped:
		return fmt.Sprintf("%s %s %s (%s) skipped", prefix, dimStyle.Render("⊘"), id, kind)
	default:
		msg := ""
		if f, ok := evt.Data["failure"].(map[string]any); ok {
			msg, _ = f["message"].(string)
		}
		return fmt.Sprintf("%s %s %s (%s) %s", prefix, failStyle.Render("✗"), id, kind, msg)
	}
}

// runFeedTUI shows seq in the live view and returns the feed's error.
// Quitting the view calls stop, which cancels the sources still running.
func runFeedTUI(name string, seq iter.Seq2[trace.Event, error], stop context.CancelFunc) error {
	p := tea.NewProgram(tui.NewModel(name))
	tui.Feed(p, seq)
	final, err := p.Run()
	stop()
	if err != nil {
		return err
	}
	if m, ok := final.(tui.Model); ok {
		return m.Err()
	}
	return nil
}

func title(paths []string) string {
	if len(paths) == 1 {
		return paths[0]
	}
	return fmt.Sprintf("%d pipelines", len(paths))
}

func varNames(vars map[string]string) []string {
	names := make([]string, 0, len(vars))
	for k := range vars {
		name, _, _ := strings.Cut(k, ".")
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "Value bound to {input}")
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "Set a variable (key=value), repeatable")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Record crop and chat calls instead of performing them")
	runCmd.Flags().StringVar(&runTrace, "trace", "", "Append JSONL trace events to this file")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show a live terminal view")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(runCmd)
}
