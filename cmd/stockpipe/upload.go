package main

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stockpipe/pkg/actions"
	"github.com/ormasoftchile/stockpipe/pkg/logging"
	"github.com/ormasoftchile/stockpipe/pkg/mux"
	"github.com/ormasoftchile/stockpipe/pkg/trace"
	"github.com/ormasoftchile/stockpipe/pkg/upload"
)

var (
	uploadTo          []string
	uploadTitle       string
	uploadDescription string
	uploadKeywords    []string
	uploadMeta        []string
	uploadSerial      bool
	uploadTrace       string
	uploadTUI         bool
	uploadMetricsAddr string
)

var uploadCmd = &cobra.Command{
	Use:   "upload [file]",
	Short: "Publish a file to one or more targets concurrently",
	Long: `Publish a file to every --to target at once. Progress from all targets
is merged into one feed; the first failing target cancels the rest.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func runUpload(cmd *cobra.Command, args []string) error {
	if len(uploadTo) == 0 {
		return fmt.Errorf("at least one --to target is required")
	}
	meta, err := parseMeta(uploadMeta)
	if err != nil {
		return err
	}
	req := upload.Request{
		File:        args[0],
		Title:       uploadTitle,
		Description: uploadDescription,
		Keywords:    uploadKeywords,
		Metadata:    meta,
	}

	ctx, cancel := signalContext()
	defer cancel()
	log := logger
	if uploadTUI {
		log = logging.Discard()
	}
	obs, err := newObservability(ctx, uploadTrace, uploadMetricsAddr, log)
	if err != nil {
		return err
	}
	defer obs.Close()

	var gate *actions.Gate
	if uploadSerial {
		gate = actions.NewGate(1)
	}
	uploaders := make([]upload.Uploader, 0, len(uploadTo))
	for _, dir := range uploadTo {
		var u upload.Uploader = upload.NewDir(dir)
		if gate != nil {
			u = upload.Exclusive(u, gate)
		}
		uploaders = append(uploaders, u)
	}

	runID := uuid.NewString()
	combined := mux.Combine(upload.Streams(req, uploaders...)...)
	feed := func(ctx context.Context) iter.Seq2[trace.Event, error] {
		return func(yield func(trace.Event, error) bool) {
			for s, err := range combined.All(ctx) {
				if err != nil {
					yield(trace.Event{}, err)
					return
				}
				evt := s.Event(runID)
				if obs.trace != nil {
					if werr := obs.trace.Write(evt); werr != nil {
						log.Warn("trace write failed", "error", werr)
					}
				}
				obs.observe(evt)
				if !yield(evt, nil) {
					return
				}
			}
		}
	}

	start := time.Now()
	var feedErr error
	if uploadTUI {
		feedCtx, stop := context.WithCancel(ctx)
		defer stop()
		feedErr = runFeedTUI(req.File, feed(feedCtx), stop)
	} else {
		for evt, err := range feed(ctx) {
			if err != nil {
				feedErr = err
				break
			}
			if line := uploadLine(evt); line != "" {
				fmt.Println(line)
			}
		}
	}

	finished := combined.Finished()
	for i, r := range combined.Results() {
		if !finished[i] {
			continue
		}
		fmt.Println(okStyle.Render(fmt.Sprintf("✓ %s → %s (%d bytes)", r.Target, r.Location, r.Bytes)))
	}
	if feedErr != nil {
		fmt.Println(failStyle.Render("✗ " + feedErr.Error()))
		return feedErr
	}
	log.Info("upload complete", "targets", len(uploaders), "duration", time.Since(start))
	return nil
}

// uploadLine renders stage changes; intermediate copy progress is elided.
func uploadLine(evt trace.Event) string {
	stage := evt.String("stage")
	target := dimStyle.Render("[" + evt.String("target") + "]")
	switch stage {
	case upload.StageCopying:
		return ""
	case upload.StageDone:
		return fmt.Sprintf("%s %s %s", target, okStyle.Render("✓"), stage)
	case upload.StageFailed:
		return fmt.Sprintf("%s %s %s", target, failStyle.Render("✗"), evt.String("message"))
	default:
		return fmt.Sprintf("%s %s", target, stage)
	}
}

func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q (want key=value)", kv)
		}
		out[k] = v
	}
	return out, nil
}

func init() {
	uploadCmd.Flags().StringArrayVar(&uploadTo, "to", nil, "Drop folder to publish into, repeatable")
	uploadCmd.Flags().StringVar(&uploadTitle, "title", "", "Listing title")
	uploadCmd.Flags().StringVar(&uploadDescription, "description", "", "Listing description")
	uploadCmd.Flags().StringSliceVar(&uploadKeywords, "keywords", nil, "Comma-separated keywords")
	uploadCmd.Flags().StringArrayVar(&uploadMeta, "meta", nil, "Extra metadata (key=value), repeatable")
	uploadCmd.Flags().BoolVar(&uploadSerial, "serial", false, "Upload to one target at a time (shared session)")
	uploadCmd.Flags().StringVar(&uploadTrace, "trace", "", "Append JSONL upload events to this file")
	uploadCmd.Flags().BoolVar(&uploadTUI, "tui", false, "Show a live terminal view")
	uploadCmd.Flags().StringVar(&uploadMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.AddCommand(uploadCmd)
}
