package stepflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestExecuteStepSuccess(t *testing.T) {
	executor := NewStepExecutor(StepExecutorOptions{})

	t.Run("zero exit code", func(t *testing.T) {
		result, err := executor.ExecuteStep(context.Background(), &Step{
			Name:    "greet",
			Command: "echo hello",
		}, Memory{})
		require.NoError(t, err)
		require.True(t, result.Succeeded)
		require.Equal(t, 1, result.Attempts)
		require.Equal(t, 0, result.ExitCode)
		require.Equal(t, "hello\n", result.Stdout)
		require.Equal(t, "greet", result.StepName)
	})

	t.Run("template substitution from memory", func(t *testing.T) {
		result, err := executor.ExecuteStep(context.Background(), &Step{
			Name:    "year",
			Command: "echo 202{{memory.year_digit}}",
			Success: &SuccessSpec{Regex: "2024"},
		}, Memory{"year_digit": float64(4)})
		require.NoError(t, err)
		require.True(t, result.Succeeded)
		require.Equal(t, "2024\n", result.Stdout)
	})

	t.Run("regex success overrides nonzero exit", func(t *testing.T) {
		result, err := executor.ExecuteStep(context.Background(), &Step{
			Name:    "marker",
			Command: "echo READY; exit 7",
			Success: &SuccessSpec{Regex: "^READY$"},
		}, Memory{})
		require.NoError(t, err)
		require.True(t, result.Succeeded)
		require.Equal(t, 7, result.ExitCode)
	})

	t.Run("stderr captured separately", func(t *testing.T) {
		result, err := executor.ExecuteStep(context.Background(), &Step{
			Name:    "split",
			Command: "echo out; echo err 1>&2",
		}, Memory{})
		require.NoError(t, err)
		require.Equal(t, "out\n", result.Stdout)
		require.Equal(t, "err\n", result.Stderr)
	})
}

func TestExecuteStepMemoryUpdates(t *testing.T) {
	executor := NewStepExecutor(StepExecutorOptions{})

	t.Run("extraction commits on success", func(t *testing.T) {
		memory := Memory{}
		result, err := executor.ExecuteStep(context.Background(), &Step{
			Name:    "probe",
			Command: `echo '{"status": "ok", "build": 12}'`,
			Success: &SuccessSpec{JSON: "status", Value: "ok"},
			MemoryUpdate: []*UpdateSpec{
				{JSON: "status", Variable: "memory.health"},
				{JSON: "build", Variable: "build_number"},
			},
		}, memory)
		require.NoError(t, err)
		require.True(t, result.Succeeded)
		require.Equal(t, "ok", memory["health"])
		require.Equal(t, float64(12), memory["build_number"])
	})

	t.Run("extraction failure degrades the attempt", func(t *testing.T) {
		memory := Memory{"keep": "me"}
		result, err := executor.ExecuteStep(context.Background(), &Step{
			Name:    "bad-extract",
			Command: "echo no version here",
			MemoryUpdate: []*UpdateSpec{
				{Regex: `version: (\S+)`, Variable: "release"},
			},
		}, memory)
		require.Error(t, err)
		var exhausted *StepExhaustedError
		require.ErrorAs(t, err, &exhausted)
		require.False(t, result.Succeeded)
		require.Equal(t, Memory{"keep": "me"}, memory)
	})
}

func TestExecuteStepRetries(t *testing.T) {
	executor := NewStepExecutor(StepExecutorOptions{})

	t.Run("attempts is max retries plus one", func(t *testing.T) {
		result, err := executor.ExecuteStep(context.Background(), &Step{
			Name:       "always-fails",
			Command:    "exit 1",
			MaxRetries: 2,
			RetryDelay: floatPtr(0),
		}, Memory{})
		var exhausted *StepExhaustedError
		require.ErrorAs(t, err, &exhausted)
		require.Equal(t, 3, exhausted.Attempts)
		require.Equal(t, 3, result.Attempts)
		require.Equal(t, 1, result.ExitCode)
		require.False(t, result.Succeeded)
		require.NotEmpty(t, result.Error)
	})

	t.Run("retry delay is honored", func(t *testing.T) {
		start := time.Now()
		_, err := executor.ExecuteStep(context.Background(), &Step{
			Name:       "slow-retry",
			Command:    "exit 1",
			MaxRetries: 1,
			RetryDelay: floatPtr(0.2),
		}, Memory{})
		require.Error(t, err)
		require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	})

	t.Run("initial delay is honored", func(t *testing.T) {
		start := time.Now()
		_, err := executor.ExecuteStep(context.Background(), &Step{
			Name:    "delayed",
			Command: "true",
			Delay:   0.2,
		}, Memory{})
		require.NoError(t, err)
		require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	})

	t.Run("unresolved variable is fatal, not retried", func(t *testing.T) {
		result, err := executor.ExecuteStep(context.Background(), &Step{
			Name:       "bad-template",
			Command:    "echo {{memory.missing}}",
			MaxRetries: 5,
		}, Memory{})
		var unresolved *UnresolvedVariableError
		require.ErrorAs(t, err, &unresolved)
		require.False(t, result.Succeeded)
		require.Zero(t, result.Attempts)
	})
}

func TestExecuteStepTimeout(t *testing.T) {
	executor := NewStepExecutor(StepExecutorOptions{})

	start := time.Now()
	result, err := executor.ExecuteStep(context.Background(), &Step{
		Name:    "hangs",
		Command: "sleep 5",
		Timeout: floatPtr(0.2),
	}, Memory{})
	require.Error(t, err)
	require.Less(t, time.Since(start), 3*time.Second)
	require.False(t, result.Succeeded)
	require.Equal(t, timeoutExitCode, result.ExitCode)
	require.Contains(t, result.Stderr, "timed out")
}

func TestExecuteStepLaunchFailure(t *testing.T) {
	executor := NewStepExecutor(StepExecutorOptions{
		Shell: "/nonexistent/shell",
	})

	result, err := executor.ExecuteStep(context.Background(), &Step{
		Name:       "no-shell",
		Command:    "echo hi",
		MaxRetries: 1,
		RetryDelay: floatPtr(0),
	}, Memory{})
	var exhausted *StepExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 2, result.Attempts)
	require.Equal(t, -1, result.ExitCode)
	require.NotEmpty(t, result.Stderr)
}

func TestExecuteStepContextCancellation(t *testing.T) {
	executor := NewStepExecutor(StepExecutorOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := executor.ExecuteStep(ctx, &Step{
		Name:    "cancelled",
		Command: "true",
		Delay:   5,
	}, Memory{})
	require.ErrorIs(t, err, context.Canceled)
}
