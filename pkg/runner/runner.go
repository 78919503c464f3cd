// Package runner prepares a pipeline file for execution: validation, seed
// environment, collaborator wiring for real or dry-run mode, and the
// adapter that exposes a run as a multiplexer stream.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ormasoftchile/stockpipe/pkg/actions"
	"github.com/ormasoftchile/stockpipe/pkg/config"
	"github.com/ormasoftchile/stockpipe/pkg/engine"
	"github.com/ormasoftchile/stockpipe/pkg/env"
	"github.com/ormasoftchile/stockpipe/pkg/eval"
	"github.com/ormasoftchile/stockpipe/pkg/fsys"
	"github.com/ormasoftchile/stockpipe/pkg/imaging"
	"github.com/ormasoftchile/stockpipe/pkg/mux"
	"github.com/ormasoftchile/stockpipe/pkg/openai"
	"github.com/ormasoftchile/stockpipe/pkg/schema"
	"github.com/ormasoftchile/stockpipe/pkg/step"
	"github.com/ormasoftchile/stockpipe/pkg/trace"
)

// Options configures Prepare.
type Options struct {
	Path   string
	Input  string
	Vars   map[string]string // --var bindings, dotted keys allowed
	DryRun bool

	Settings config.Settings
	// Chat overrides the collaborator built from Settings.
	Chat engine.ChatCompleter
	// ImageGate serializes image work across runs; a private gate is
	// created when nil.
	ImageGate *actions.Gate
	// ChatGate serializes chat calls across runs; a private gate is
	// created when nil.
	ChatGate *actions.Gate

	Cwd     string            // defaults to os.Getwd
	Environ map[string]string // defaults to the process environment

	Trace    *trace.Writer
	Observer func(trace.Event)
	Logger   *slog.Logger
}

// Prepared is a validated pipeline bound to its seed and engine.
type Prepared struct {
	Path     string
	Pipeline *schema.Pipeline
	Steps    []step.Step
	Warnings []*schema.ValidationError
	Seed     *env.Environment
	Engine   *engine.Engine
	// DryRun records collaborator calls; nil in real mode.
	DryRun   *actions.DryRun
	DryRunFS *actions.DryRunFS

	observer func(trace.Event)
	emit     func(trace.Event) error
}

// Prepare validates opts.Path and wires an engine for it.
func Prepare(opts Options) (*Prepared, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	varNames := make([]string, 0, len(opts.Vars))
	for k := range opts.Vars {
		varNames = append(varNames, rootName(k))
	}
	slices.Sort(varNames)

	p, steps, findings, err := schema.LoadSteps(opts.Path, varNames...)
	if err != nil {
		return nil, err
	}
	pr := &Prepared{
		Path:     opts.Path,
		Pipeline: p,
		Steps:    steps,
		observer: opts.Observer,
	}
	for _, f := range findings {
		if f.Severity == schema.SeverityWarning {
			pr.Warnings = append(pr.Warnings, f)
		}
	}

	pr.Seed, err = seed(p, opts)
	if err != nil {
		return nil, err
	}

	cfg := engine.Config{
		Name:     pr.Name(),
		Trace:    opts.Trace,
		Observer: pr.observe,
		Logger:   logger,
	}
	gate := opts.ImageGate
	if gate == nil {
		gate = actions.NewGate(1)
	}
	if opts.DryRun {
		pr.DryRun = actions.NewDryRun()
		pr.DryRunFS = actions.NewDryRunFS(pr.DryRun)
		cfg.FS = pr.DryRunFS
		cfg.Prober = pr.DryRun
		cfg.Cropper = pr.DryRun
		cfg.Chat = pr.DryRun
	} else {
		cfg.FS = fsys.OS{}
		cfg.Prober = imaging.Prober{}
		cfg.Cropper = actions.ExclusiveCropper(imaging.Cropper{}, gate)
		cfg.Chat = opts.Chat
		if cfg.Chat == nil && usesChat(steps) {
			oc, err := opts.Settings.OpenAI()
			if err != nil {
				return nil, err
			}
			oc.Logger = logger
			client, err := openai.NewClient(oc)
			if err != nil {
				return nil, err
			}
			cfg.Chat = client
		}
		if cfg.Chat != nil {
			chatGate := opts.ChatGate
			if chatGate == nil {
				chatGate = actions.NewGate(1)
			}
			cfg.Chat = actions.ExclusiveCompleter(cfg.Chat, chatGate)
		}
	}
	if opts.Trace != nil {
		opts.Trace.SetSecrets(opts.Settings.Secrets()...)
	}
	pr.Engine = engine.New(cfg)
	return pr, nil
}

// Name is the pipeline's display name, falling back to the file name.
func (p *Prepared) Name() string {
	if p.Pipeline != nil && p.Pipeline.Name != "" {
		return p.Pipeline.Name
	}
	return strings.TrimSuffix(filepath.Base(p.Path), filepath.Ext(p.Path))
}

// Run executes the pipeline.
func (p *Prepared) Run(ctx context.Context) *engine.RunResult {
	return p.Engine.Run(ctx, p.Steps, p.Seed)
}

// Stream exposes the run as a multiplexer source whose values are the
// run's trace events and whose terminal value is its result. A failed run
// still completes the stream; only cancellation ends it with an error.
func (p *Prepared) Stream() mux.Stream[trace.Event, *engine.RunResult] {
	return mux.FromFunc(p.Name(), func(ctx context.Context, emit func(trace.Event) error) (*engine.RunResult, error) {
		p.emit = emit
		result := p.Run(ctx)
		if err := ctx.Err(); err != nil {
			return result, err
		}
		return result, nil
	})
}

func (p *Prepared) observe(evt trace.Event) {
	if p.observer != nil {
		p.observer(evt)
	}
	if p.emit != nil {
		_ = p.emit(evt)
	}
}

// seed builds the run's initial Environment. The pipeline's workDir is
// templated against a provisional seed and resolved against cwd.
func seed(p *schema.Pipeline, opts Options) (*env.Environment, error) {
	cwd := opts.Cwd
	if cwd == "" {
		var err error
		if cwd, err = os.Getwd(); err != nil {
			return nil, err
		}
	}
	environ := opts.Environ
	if environ == nil {
		environ = env.ProcessEnviron()
	}

	e := env.Seed(cwd, "", opts.Input, environ)
	if len(opts.Vars) > 0 {
		bindings := make(map[string]any, len(opts.Vars))
		for k, v := range opts.Vars {
			bindings[k] = v
		}
		e = e.Extend(bindings)
	}
	if p.WorkDir == "" {
		return e, nil
	}
	wd, err := eval.ResolveString(p.WorkDir, e)
	if err != nil {
		return nil, fmt.Errorf("workDir: %w", err)
	}
	return e.Bind(env.VarWorkDir, fsys.Resolve(cwd, wd)), nil
}

func usesChat(steps []step.Step) bool {
	found := false
	step.Walk(steps, func(s step.Step, _ int) bool {
		if s.Kind() == step.KindChat {
			found = true
		}
		return !found
	})
	return found
}

func rootName(path string) string {
	name, _, _ := strings.Cut(path, ".")
	return name
}

// ParseVars parses key=value pairs as given to --var.
func ParseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --var %q (want key=value)", kv)
		}
		vars[strings.TrimSpace(k)] = v
	}
	return vars, nil
}
