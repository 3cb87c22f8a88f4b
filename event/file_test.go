package event

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileLog(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "oao-event-log-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	log := NewFileLog(tempDir)
	ctx := context.Background()

	t.Run("append and read", func(t *testing.T) {
		_, err := log.Append(ctx, "exec-1", Draft{
			Data: &ExecutionStartedData{Task: "echo", AgentName: "echo-agent"},
		})
		require.NoError(t, err)
		_, err = log.Append(ctx, "exec-1", Draft{
			StepNumber: intptr(0),
			Data:       &StepStartedData{},
		})
		require.NoError(t, err)

		events, err := log.Read(ctx, "exec-1", 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		require.NoError(t, checkDense(events))
		require.Equal(t, TypeExecutionStarted, events[0].Type)
	})

	t.Run("sequence survives reopen", func(t *testing.T) {
		reopened := NewFileLog(tempDir)
		ev, err := reopened.Append(ctx, "exec-1", Draft{
			StepNumber: intptr(0),
			Data:       &StepCompletedData{Output: "echo", Tokens: 10, TokenUsage: 10},
		})
		require.NoError(t, err)
		require.Equal(t, int64(2), ev.Sequence)
	})

	t.Run("terminal survives reopen", func(t *testing.T) {
		_, err := log.Append(ctx, "exec-2", Draft{
			Data: &ExecutionStartedData{Task: "t", AgentName: "a"},
		})
		require.NoError(t, err)
		_, err = log.Append(ctx, "exec-2", Draft{
			Data: &ExecutionFailedData{Kind: "Internal", Detail: "boom"},
		})
		require.NoError(t, err)

		reopened := NewFileLog(tempDir)
		_, err = reopened.Append(ctx, "exec-2", Draft{Data: &StepStartedData{}})
		require.ErrorIs(t, err, ErrTerminalRecorded)
	})

	t.Run("lookup tool success", func(t *testing.T) {
		_, err := log.Append(ctx, "exec-3", Draft{
			Data: &ExecutionStartedData{Task: "t", AgentName: "a"},
		})
		require.NoError(t, err)
		_, err = log.Append(ctx, "exec-3", Draft{
			StepNumber: intptr(0),
			Data:       &ToolCallSuccessData{ToolName: "search", ArgHash: "h", Result: "R"},
		})
		require.NoError(t, err)

		record, found, err := log.LookupToolSuccess(ctx, "exec-3", "h")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "R", record.Result)
	})
}

func TestFileLogSweep(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "oao-event-sweep-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	log := NewFileLog(tempDir)
	ctx := context.Background()

	_, err = log.Append(ctx, "exec-old", Draft{
		Data: &ExecutionStartedData{Task: "t", AgentName: "a"},
	})
	require.NoError(t, err)
	require.NoError(t, log.SetRetention(ctx, "exec-old", time.Hour))

	_, err = log.Append(ctx, "exec-new", Draft{
		Data: &ExecutionStartedData{Task: "t", AgentName: "a"},
	})
	require.NoError(t, err)

	// Nothing is old enough yet.
	removed, err := log.Sweep(time.Now())
	require.NoError(t, err)
	require.Empty(t, removed)

	// Two hours from now the one-hour retention has lapsed, while exec-new
	// is still inside the default window.
	removed, err = log.Sweep(time.Now().Add(2 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{"exec-old"}, removed)

	_, err = os.Stat(filepath.Join(tempDir, "exec-old"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(tempDir, "exec-new"))
	require.NoError(t, err)
}
