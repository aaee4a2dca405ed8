package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	stepflow "github.com/stepflow-dev/stepflow"
)

// Config holds the parsed CLI configuration.
type Config struct {
	WorkflowFile string
	MemoryInput  string
	MemoryFile   string
	ResultsDir   string
	PostgresDSN  string
	Timeout      time.Duration
	Quiet        bool
	Verbose      bool
	JSON         bool
}

func main() {
	os.Exit(run())
}

func run() int {
	config := parseFlags()

	if config.WorkflowFile == "" {
		color.Red("Error: workflow file is required")
		flag.Usage()
		return 1
	}
	if _, err := os.Stat(config.WorkflowFile); os.IsNotExist(err) {
		color.Red("Error: workflow file %q not found", config.WorkflowFile)
		return 1
	}

	logger := setupLogger(config)

	wf, err := stepflow.LoadFile(config.WorkflowFile)
	if err != nil {
		color.Red("Failed to load workflow: %v", err)
		return 1
	}

	ctx := context.Background()
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	resultLogger, cleanup, err := setupResultLogger(ctx, config)
	if err != nil {
		color.Red("Failed to set up result logging: %v", err)
		return 1
	}
	defer cleanup()

	var formatter stepflow.RunFormatter
	if config.Quiet {
		formatter = stepflow.NewNullFormatter()
	} else {
		formatter = stepflow.NewColorFormatter(config.Verbose)
	}

	runner, err := stepflow.NewRunner(stepflow.RunnerOptions{
		Workflow:     wf,
		MemoryInput:  config.MemoryInput,
		MemoryFile:   config.MemoryFile,
		Logger:       logger,
		ResultLogger: resultLogger,
		Formatter:    formatter,
	})
	if err != nil {
		color.Red("Failed to create runner: %v", err)
		return 1
	}

	result, runErr := runner.Run(ctx)
	if result != nil {
		printResult(result)
	}
	if runErr != nil {
		color.Red("Error: %v", runErr)
		return 1
	}
	return 0
}

// printResult writes the final structured run result to stdout, where
// callers (including parent workflows) consume it.
func printResult(result *stepflow.WorkflowResult) {
	completed := 0
	for _, stepResult := range result.StepResults {
		if stepResult.Succeeded {
			completed++
		}
	}
	document := map[string]any{
		"workflow_result": map[string]any{
			"status":          result.Status(),
			"run_id":          result.RunID,
			"workflow_name":   result.WorkflowName,
			"completed_steps": completed,
			"memory":          result.FinalMemory,
		},
	}
	encoded, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode run result: %v\n", err)
		return
	}
	fmt.Println(string(encoded))
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.WorkflowFile, "file", "", "Path to the workflow definition file, JSON or YAML (required)")
	flag.StringVar(&config.WorkflowFile, "f", "", "Path to the workflow definition file (shorthand)")

	flag.StringVar(&config.MemoryInput, "memory", "", "JSON object of memory overrides (highest priority)")
	flag.StringVar(&config.MemoryInput, "m", "", "JSON object of memory overrides (shorthand)")

	flag.StringVar(&config.MemoryFile, "memory-file", "", "Path to a JSON file of memory overrides")

	flag.StringVar(&config.ResultsDir, "results", "", "Directory to store per-run result logs (optional)")
	flag.StringVar(&config.PostgresDSN, "postgres", "", "Postgres DSN for persistent run history (optional)")

	flag.DurationVar(&config.Timeout, "timeout", 0, "Overall run timeout (e.g. 30s, 5m, 1h)")
	flag.DurationVar(&config.Timeout, "t", 0, "Overall run timeout (shorthand)")

	flag.BoolVar(&config.Quiet, "quiet", false, "Suppress progress output, print only the final result")
	flag.BoolVar(&config.Quiet, "q", false, "Suppress progress output (shorthand)")

	flag.BoolVar(&config.Verbose, "verbose", false, "Echo captured stdout/stderr and enable debug logging")
	flag.BoolVar(&config.Verbose, "v", false, "Enable verbose output (shorthand)")

	flag.BoolVar(&config.JSON, "json", false, "Emit logs as JSON")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `stepflow - execute declaratively-defined shell workflows

Usage: %s [options] -file <workflow.json>

Examples:
  # Execute a workflow
  %s -file deploy.json

  # Execute with memory overrides and per-run result logs
  %s -file deploy.json -memory '{"env":"staging"}' -results ./runs

  # Execute quietly with an overall timeout
  %s -file deploy.json -quiet -timeout 10m

Memory priority (highest wins):
  -memory JSON string > -memory-file > workflow variables > workflow initial

Options:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()
	return config
}

func setupLogger(config *Config) *slog.Logger {
	level := slog.LevelWarn
	if config.Verbose {
		level = slog.LevelDebug
	}
	if config.JSON {
		return stepflow.NewJSONLogger(os.Stderr, level)
	}
	return stepflow.NewLogger(level)
}

func setupResultLogger(ctx context.Context, config *Config) (stepflow.ResultLogger, func(), error) {
	switch {
	case config.PostgresDSN != "":
		logger, err := stepflow.OpenPostgresResultLogger(ctx, config.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return logger, func() { logger.Close() }, nil
	case config.ResultsDir != "":
		return stepflow.NewFileResultLogger(config.ResultsDir), func() {}, nil
	default:
		return stepflow.NewNullResultLogger(), func() {}, nil
	}
}
