package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stockpipe/pkg/config"
	"github.com/ormasoftchile/stockpipe/pkg/logging"
	"github.com/ormasoftchile/stockpipe/pkg/runner"
	"github.com/ormasoftchile/stockpipe/pkg/schema"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var (
	logLevel  string
	logFormat string
	settings  config.Settings
	logger    = slog.Default()
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("40"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "stockpipe",
	Short:        "Declarative image and listing pipelines",
	Long:         "stockpipe runs YAML pipelines that crop images, ask a chat model for listing text, and publish the results.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		settings, err = config.Load(".env")
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			settings.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			settings.LogFormat = logFormat
		}
		logger, err = logging.Setup(settings.LogLevel, settings.LogFormat, os.Stderr)
		return err
	},
}

// signalContext is cancelled on interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	return logging.WithLogger(ctx, logger), cancel
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [pipeline.yaml]",
	Short: "Validate a pipeline YAML file against the schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var validateVars []string

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	vars, err := runner.ParseVars(validateVars)
	if err != nil {
		return err
	}
	p, errs := schema.ValidateFile(filePath, varNames(vars)...)
	printValidationWarnings(errs)
	if schema.HasErrors(errs) {
		n := 0
		for _, e := range errs {
			if e.Severity == schema.SeverityError {
				n++
			}
		}
		fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", n)
		i := 0
		for _, e := range errs {
			if e.Severity != schema.SeverityError {
				continue
			}
			i++
			fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
			}
		}
		return fmt.Errorf("validation failed with %d error(s)", n)
	}
	steps, err := p.Build()
	if err != nil {
		return err
	}
	name := p.Name
	if name == "" {
		name = filePath
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("✓ %s is valid (%d steps)", name, countSteps(steps))))
	return nil
}

// printValidationWarnings prints any warnings to stderr.
func printValidationWarnings(errs []*schema.ValidationError) {
	for _, e := range errs {
		if e.Severity != schema.SeverityWarning {
			continue
		}
		fmt.Fprintln(os.Stderr, warnStyle.Render(fmt.Sprintf("  ⚠ [%s] %s", e.Phase, e.Message)))
		if e.Path != "" {
			fmt.Fprintf(os.Stderr, "    at: %s\n", e.Path)
		}
	}
}

// --- schema export ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Schema operations",
}

var schemaExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the pipeline JSON Schema to stdout",
	RunE:  runSchemaExport,
}

func runSchemaExport(cmd *cobra.Command, args []string) error {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	var out json.RawMessage = data
	formatted, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(string(formatted))
	return nil
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stockpipe %s (build: %s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error (overrides "+config.EnvLogLevel+")")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json (overrides "+config.EnvLogFormat+")")

	validateCmd.Flags().StringArrayVar(&validateVars, "var", nil, "Declare a variable supplied at run time (key=value), repeatable")

	schemaCmd.AddCommand(schemaExportCmd)

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
}
