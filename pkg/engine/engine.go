// Package engine implements the sequential pipeline interpreter.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ormasoftchile/stockpipe/pkg/env"
	"github.com/ormasoftchile/stockpipe/pkg/eval"
	"github.com/ormasoftchile/stockpipe/pkg/fsys"
	"github.com/ormasoftchile/stockpipe/pkg/imaging"
	"github.com/ormasoftchile/stockpipe/pkg/logging"
	"github.com/ormasoftchile/stockpipe/pkg/schema"
	"github.com/ormasoftchile/stockpipe/pkg/source"
	"github.com/ormasoftchile/stockpipe/pkg/step"
	"github.com/ormasoftchile/stockpipe/pkg/storage"
	"github.com/ormasoftchile/stockpipe/pkg/trace"
)

// ImageCropper cuts region out of input and writes it to output.
type ImageCropper interface {
	Crop(ctx context.Context, input string, region imaging.Region, output string) (string, error)
}

// ImageProber reports an image's natural dimensions.
type ImageProber interface {
	Dimensions(ctx context.Context, path string) (width, height int, err error)
}

// ChatCompleter answers a prompt within maxTokens.
type ChatCompleter interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Config configures an Engine. Nil collaborators fall back to the local
// filesystem and the stdlib image prober/cropper; Chat has no default.
type Config struct {
	RunID    string // generated when empty
	Name     string // pipeline name for the trace
	Cropper  ImageCropper
	Prober   ImageProber
	Chat     ChatCompleter
	FS       fsys.FS
	Trace    *trace.Writer
	Observer func(trace.Event)
	Logger   *slog.Logger
}

// RunResult is the outcome of executing a pipeline.
type RunResult struct {
	RunID    string
	Name     string
	Status   trace.StepStatus // success or failed
	Steps    int              // steps executed, containers included
	Skipped  int              // steps whose `when` guard was false
	Duration time.Duration
	Error    error
}

// Engine walks a step tree. Steps and iterations run strictly one after
// another; an Engine must not be shared by concurrent runs.
type Engine struct {
	cfg     Config
	runID   string
	logger  *slog.Logger
	steps   int
	skipped int
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.FS == nil {
		cfg.FS = fsys.OS{}
	}
	if cfg.Cropper == nil {
		cfg.Cropper = imaging.Cropper{}
	}
	if cfg.Prober == nil {
		cfg.Prober = imaging.Prober{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Engine{
		cfg:    cfg,
		runID:  runID,
		logger: logging.WithRunID(cfg.Logger, runID),
	}
}

// RunID returns the identifier stamped on this engine's trace events.
func (en *Engine) RunID() string { return en.runID }

// Run executes the root steps sequentially against seed. Any error aborts
// the whole run.
func (en *Engine) Run(ctx context.Context, steps []step.Step, seed *env.Environment) *RunResult {
	start := time.Now()
	en.steps, en.skipped = 0, 0

	inputs := map[string]any{}
	for _, name := range []string{env.VarInput, env.VarWorkDir} {
		if v, ok := seed.String(name); ok {
			inputs[name] = v
		}
	}
	en.emit(trace.RunStart(en.runID, en.cfg.Name, inputs))
	en.logger.Info("run started", "pipeline", en.cfg.Name, "steps", step.Count(steps))

	_, err := en.executeSteps(ctx, steps, seed, "steps")

	result := &RunResult{
		RunID:    en.runID,
		Name:     en.cfg.Name,
		Status:   trace.StatusSuccess,
		Steps:    en.steps,
		Skipped:  en.skipped,
		Duration: time.Since(start),
		Error:    err,
	}
	if err != nil {
		result.Status = trace.StatusFailed
		en.logger.Error("run failed", "error", err, "duration", result.Duration)
	} else {
		en.logger.Info("run complete", "steps", result.Steps, "skipped", result.Skipped, "duration", result.Duration)
	}
	en.emit(trace.RunComplete(en.runID, result.Status, result.Duration, err))
	return result
}

// Execute runs a single step against e and returns the Environment the
// step's following siblings should see.
func (en *Engine) Execute(ctx context.Context, s step.Step, e *env.Environment) (*env.Environment, error) {
	return en.execute(ctx, s, e, string(s.Kind()))
}

func (en *Engine) executeSteps(ctx context.Context, steps []step.Step, e *env.Environment, prefix string) (*env.Environment, error) {
	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return e, err
		}
		next, err := en.execute(ctx, s, e, fmt.Sprintf("%s[%d]", prefix, i))
		if err != nil {
			return e, err
		}
		e = next
	}
	return e, nil
}

func (en *Engine) execute(ctx context.Context, s step.Step, e *env.Environment, path string) (*env.Environment, error) {
	kind := s.Kind()
	logger := logging.WithStep(en.logger, path, string(kind))
	en.emit(trace.StepStart(en.runID, path, string(kind), s.Label()))
	start := time.Now()

	// Evaluate `when` guard
	if cond := s.Condition(); cond != "" {
		run, err := eval.Condition(cond, e)
		if err != nil {
			return e, en.fail(logger, path, kind, start, &schema.ValidationError{
				Phase: schema.PhaseRuntime, Path: path + ".when", Message: err.Error(),
				Severity: schema.SeverityError, Err: err,
			})
		}
		if !run {
			en.skipped++
			logger.Debug("step skipped", "when", cond)
			en.emit(trace.StepComplete(en.runID, path, string(kind), trace.StatusSkipped, 0, nil))
			return e, nil
		}
	}

	en.steps++
	logger.Debug("step started", "label", s.Label())

	next := e
	var err error
	switch st := s.(type) {
	case *step.ForEachFile:
		err = en.forEachFile(ctx, st, e, path)
	case *step.ForEachValue:
		err = en.forEachValue(ctx, st, e, path)
	case *step.Crop:
		err = en.crop(ctx, st, e, path)
	case *step.Chat:
		next, err = en.chat(ctx, st, e, path)
	default:
		err = fmt.Errorf("unsupported step type %T", s)
	}
	if err != nil {
		return e, en.fail(logger, path, kind, start, err)
	}

	duration := time.Since(start)
	logger.Info("step complete", "duration", duration)
	en.emit(trace.StepComplete(en.runID, path, string(kind), trace.StatusSuccess, duration, nil))
	return next, nil
}

// fail records a failed step and returns err located at path, unless a
// descendant already located it.
func (en *Engine) fail(logger *slog.Logger, path string, kind step.Kind, start time.Time, err error) error {
	duration := time.Since(start)
	en.emit(trace.StepComplete(en.runID, path, string(kind), trace.StatusFailed, duration, failureOf(err)))
	if _, located := err.(*StepError); located {
		return err
	}
	logger.Error("step failed", "error", err, "duration", duration)
	return &StepError{Path: path, Kind: kind, Err: err}
}

func (en *Engine) forEachFile(ctx context.Context, st *step.ForEachFile, e *env.Environment, path string) error {
	rel, err := eval.ResolveString(st.Dir, e)
	if err != nil {
		return err
	}
	dir := fsys.Resolve(e.WorkDir(), rel)
	names, err := en.cfg.FS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list directory: %w", err)
	}
	en.emit(trace.ForEachStart(en.runID, path, len(names)))

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		filePath, fileName, ext := fsys.FileParts(filepath.Join(dir, name))
		child := e.Extend(map[string]any{
			"filepath": filePath,
			"filename": fileName,
			"ext":      ext,
		})
		en.emit(trace.ForEachItem(en.runID, path, i, filePath))
		if _, err := en.executeSteps(ctx, st.Steps, child, fmt.Sprintf("%s.iter[%d].steps", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func (en *Engine) forEachValue(ctx context.Context, st *step.ForEachValue, e *env.Environment, path string) error {
	values, err := eval.ResolveValues(st.Values, e)
	if err != nil {
		return err
	}
	en.emit(trace.ForEachStart(en.runID, path, len(values)))

	for i, v := range values {
		if err := ctx.Err(); err != nil {
			return err
		}
		child := e.Bind("value", v)
		en.emit(trace.ForEachItem(en.runID, path, i, v))
		if _, err := en.executeSteps(ctx, st.Steps, child, fmt.Sprintf("%s.iter[%d].steps", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func (en *Engine) crop(ctx context.Context, st *step.Crop, e *env.Environment, path string) error {
	ratioText, err := eval.ResolveString(st.AspectRatio, e)
	if err != nil {
		return err
	}
	ratio, err := imaging.ParseAspectRatio(ratioText)
	if err != nil {
		return &schema.ValidationError{
			Phase: schema.PhaseRuntime, Path: path + ".aspectRatio", Message: err.Error(),
			Severity: schema.SeverityError, Err: err,
		}
	}

	rel, err := eval.ResolveString(st.Input, e)
	if err != nil {
		return err
	}
	input := fsys.Resolve(e.WorkDir(), rel)
	output, err := storage.FilePath(storage.File(st.Output), e)
	if err != nil {
		return err
	}

	width, height, err := en.cfg.Prober.Dimensions(ctx, input)
	if err != nil {
		return &ActionError{Action: "probe", Step: path, Err: err}
	}
	region := imaging.CenterCrop(width, height, ratio)
	en.logger.Debug("cropping", "step", path, "input", input, "region", region.String(), "output", output)
	if _, err := en.cfg.Cropper.Crop(ctx, input, region, output); err != nil {
		return &ActionError{Action: "crop", Step: path, Err: err}
	}
	return nil
}

func (en *Engine) chat(ctx context.Context, st *step.Chat, e *env.Environment, path string) (*env.Environment, error) {
	if en.cfg.Chat == nil {
		return nil, &ActionError{Action: "chat", Step: path, Err: fmt.Errorf("no chat collaborator configured")}
	}
	text, err := source.Resolve(en.cfg.FS, st.Prompt, e)
	if err != nil {
		return nil, err
	}
	prompt, err := eval.ResolveString(text, e)
	if err != nil {
		return nil, err
	}
	reply, err := en.cfg.Chat.Complete(ctx, prompt, st.MaxTokens)
	if err != nil {
		return nil, &ActionError{Action: "chat", Step: path, Err: err}
	}
	return storage.Write(en.cfg.FS, st.Output, reply, e)
}

func (en *Engine) emit(evt trace.Event) {
	if en.cfg.Trace != nil {
		if err := en.cfg.Trace.Write(evt); err != nil {
			en.logger.Warn("trace write failed", "error", err)
		}
	}
	if en.cfg.Observer != nil {
		en.cfg.Observer(evt)
	}
}
