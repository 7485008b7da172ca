package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/retailops/backoffice/jobs"
)

func TestBuildTaskUsesConfiguredPayload(t *testing.T) {
	c := &JobsCLI{defaults: JobDefaults{LookbackDays: 7, RetentionDays: 14}}

	task, err := c.BuildTask(jobs.TaskGLIntegrity)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskGLIntegrity, task.Type())
	var gl jobs.GLIntegrityPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &gl))
	require.Equal(t, 7, gl.LookbackDays)

	task, err = c.BuildTask(jobs.TaskIdempotencyCleanup)
	require.NoError(t, err)
	var cleanup jobs.IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &cleanup))
	require.Equal(t, 14, cleanup.RetentionDays)
}

func TestBuildTaskRejectsUnknownJob(t *testing.T) {
	c := &JobsCLI{}
	_, err := c.BuildTask("ledger:unknown")
	require.ErrorContains(t, err, "unsupported job")
}

func TestRunValidatesArguments(t *testing.T) {
	c := &JobsCLI{}
	var out bytes.Buffer

	require.ErrorContains(t, c.Run(context.Background(), &out, nil), "usage")
	require.ErrorContains(t, c.Run(context.Background(), &out, []string{"trigger"}), "requires a task name")
	require.ErrorContains(t, c.Run(context.Background(), &out, []string{"purge"}), "unknown subcommand")
	require.ErrorContains(t, c.Run(context.Background(), &out, []string{"trigger", jobs.TaskGLIntegrity}), "client not configured")
	require.Empty(t, out.String())
}
