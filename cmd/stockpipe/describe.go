package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stockpipe/pkg/describe"
	"github.com/ormasoftchile/stockpipe/pkg/diagram"
	"github.com/ormasoftchile/stockpipe/pkg/schema"
	"github.com/ormasoftchile/stockpipe/pkg/step"
)

var (
	describeFormat string
	describePlain  bool
	describeWidth  int
)

var describeCmd = &cobra.Command{
	Use:   "describe [pipeline.yaml]",
	Short: "Summarize a pipeline and draw its step tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribe,
}

func runDescribe(cmd *cobra.Command, args []string) error {
	p, steps, findings, err := schema.LoadSteps(args[0])
	printValidationWarnings(findings)
	if err != nil {
		return err
	}

	switch describeFormat {
	case "markdown", "md":
		md, err := describe.Markdown(p, steps)
		if err != nil {
			return err
		}
		if describePlain {
			fmt.Print(md)
			return nil
		}
		fmt.Print(describe.Render(md, describeWidth))
		return nil
	case string(diagram.FormatASCII), string(diagram.FormatMermaid):
		out, err := diagram.Generate(p.Name, steps, diagram.Format(describeFormat))
		if err != nil {
			return err
		}
		fmt.Fprint(os.Stdout, out)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want markdown, ascii or mermaid)", describeFormat)
	}
}

func countSteps(steps []step.Step) int { return step.Count(steps) }

func init() {
	describeCmd.Flags().StringVar(&describeFormat, "format", "markdown", "Output format: markdown, ascii or mermaid")
	describeCmd.Flags().BoolVar(&describePlain, "plain", false, "Print raw markdown without terminal styling")
	describeCmd.Flags().IntVar(&describeWidth, "width", 0, "Wrap rendered markdown at this width (0 disables wrapping)")
	rootCmd.AddCommand(describeCmd)
}
