package stepflow

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileResultLogger(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := NewFileResultLogger(dir)

	runID := "run_filetest"
	first := &StepResult{
		StepName:  "first",
		Attempts:  1,
		ExitCode:  0,
		Stdout:    "hello\n",
		Succeeded: true,
		StartTime: time.Now(),
		Duration:  time.Second,
	}
	second := &StepResult{
		StepName: "second",
		Attempts: 3,
		ExitCode: 1,
		Error:    "command exited with code 1",
	}
	require.NoError(t, logger.LogStepResult(ctx, runID, first))
	require.NoError(t, logger.LogStepResult(ctx, runID, second))
	require.NoError(t, logger.LogRunResult(ctx, &WorkflowResult{
		WorkflowName: "demo",
		RunID:        runID,
		StepResults:  []*StepResult{first, second},
		Succeeded:    false,
	}))

	t.Run("one JSONL file per run", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, runID+".jsonl"))
		require.NoError(t, err)
		lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		require.Len(t, lines, 3)

		var record fileResultRecord
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
		require.Equal(t, "step", record.Type)
		require.Equal(t, "first", record.Step.StepName)

		require.NoError(t, json.Unmarshal([]byte(lines[2]), &record))
		require.Equal(t, "run", record.Type)
		require.Equal(t, "demo", record.Run.WorkflowName)
	})

	t.Run("step history round trip", func(t *testing.T) {
		history, err := logger.StepHistory(ctx, runID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		require.Equal(t, "first", history[0].StepName)
		require.True(t, history[0].Succeeded)
		require.Equal(t, "second", history[1].StepName)
		require.Equal(t, 3, history[1].Attempts)
		require.Equal(t, "command exited with code 1", history[1].Error)
	})

	t.Run("history for unknown run errors", func(t *testing.T) {
		_, err := logger.StepHistory(ctx, "run_unknown")
		require.Error(t, err)
	})

	t.Run("creates nested directories", func(t *testing.T) {
		nested := NewFileResultLogger(filepath.Join(dir, "a", "b"))
		require.NoError(t, nested.LogStepResult(ctx, "run_nested", &StepResult{StepName: "x"}))
		_, err := os.Stat(filepath.Join(dir, "a", "b", "run_nested.jsonl"))
		require.NoError(t, err)
	})
}

func TestNullResultLogger(t *testing.T) {
	ctx := context.Background()
	logger := NewNullResultLogger()
	require.NoError(t, logger.LogStepResult(ctx, "run_x", &StepResult{}))
	require.NoError(t, logger.LogRunResult(ctx, &WorkflowResult{}))
}

func TestRunnerWithFileResultLogger(t *testing.T) {
	dir := t.TempDir()
	logger := NewFileResultLogger(dir)

	workflow := newTestWorkflow(t, Options{
		Name: "logged",
		Steps: []*Step{
			{Name: "one", Command: "echo one"},
			{Name: "two", Command: "echo two"},
		},
	})
	result, err := runWorkflow(t, RunnerOptions{
		Workflow:     workflow,
		ResultLogger: logger,
	})
	require.NoError(t, err)

	history, err := logger.StepHistory(context.Background(), result.RunID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "one\n", history[0].Stdout)
	require.Equal(t, "two\n", history[1].Stdout)
}
