package stepflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResultLogger persists step and run results for later inspection. It is the
// reporting boundary: the Runner emits every step's result and the final run
// result through it.
type ResultLogger interface {
	// LogStepResult records one step's authoritative result.
	LogStepResult(ctx context.Context, runID string, result *StepResult) error

	// LogRunResult records the final result of a run.
	LogRunResult(ctx context.Context, result *WorkflowResult) error
}

// NullResultLogger is a no-op implementation of ResultLogger.
type NullResultLogger struct{}

func NewNullResultLogger() *NullResultLogger {
	return &NullResultLogger{}
}

func (l *NullResultLogger) LogStepResult(ctx context.Context, runID string, result *StepResult) error {
	return nil
}

func (l *NullResultLogger) LogRunResult(ctx context.Context, result *WorkflowResult) error {
	return nil
}

// FileResultLogger writes results to a file per run, formatted as
// newline-delimited JSON. Step records carry type "step", the final record
// type "run".
type FileResultLogger struct {
	directory string
}

func NewFileResultLogger(directory string) *FileResultLogger {
	return &FileResultLogger{directory: directory}
}

type fileResultRecord struct {
	Type string          `json:"type"`
	Step *StepResult     `json:"step,omitempty"`
	Run  *WorkflowResult `json:"run,omitempty"`
}

func (l *FileResultLogger) runLogPath(runID string) string {
	return filepath.Join(l.directory, fmt.Sprintf("%s.jsonl", runID))
}

func (l *FileResultLogger) LogStepResult(ctx context.Context, runID string, result *StepResult) error {
	return l.appendRecord(runID, fileResultRecord{Type: "step", Step: result})
}

func (l *FileResultLogger) LogRunResult(ctx context.Context, result *WorkflowResult) error {
	return l.appendRecord(result.RunID, fileResultRecord{Type: "run", Run: result})
}

func (l *FileResultLogger) appendRecord(runID string, record fileResultRecord) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	path := l.runLogPath(runID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(encoded, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// StepHistory reads back the step results recorded for a run.
func (l *FileResultLogger) StepHistory(ctx context.Context, runID string) ([]*StepResult, error) {
	data, err := os.ReadFile(l.runLogPath(runID))
	if err != nil {
		return nil, err
	}
	var results []*StepResult
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var record fileResultRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, err
		}
		if record.Type == "step" {
			results = append(results, record.Step)
		}
	}
	return results, nil
}
