package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreviewCommandText(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := PreviewCommand(ScheduleOptions{
		Total:  "100",
		Quotas: 3,
		Start:  "2024-01-31",
		Stdout: &stdout,
		Stderr: &stderr,
	})
	require.Equal(t, 0, code, stderr.String())
	out := stdout.String()
	require.Contains(t, out, "2024-02-29")
	require.Contains(t, out, "33.33")
	require.Contains(t, out, "33.34")
	require.Contains(t, out, "100.00")
	require.Empty(t, stderr.String())
}

func TestPreviewCommandJSON(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := PreviewCommand(ScheduleOptions{
		Total:      "1000",
		Quotas:     4,
		Start:      "2024-01-15",
		JSONOutput: true,
		Stdout:     &stdout,
		Stderr:     &stderr,
	})
	require.Equal(t, 0, code)

	var payload struct {
		Installments []struct {
			QuotaNumber int    `json:"quota_number"`
			QuotaValue  string `json:"quota_value"`
		} `json:"installments"`
		Total string `json:"total"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &payload))
	require.Len(t, payload.Installments, 4)
	require.Equal(t, 4, payload.Installments[3].QuotaNumber)
	require.Equal(t, "250", payload.Installments[0].QuotaValue)
}

func TestPreviewCommandCustomWarning(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := PreviewCommand(ScheduleOptions{
		Total:  "1000",
		Start:  "2024-01-15",
		Custom: []string{"300", "300", "300"},
		Stdout: &stdout,
		Stderr: &stderr,
	})
	require.Equal(t, 10, code)
	require.True(t, strings.HasPrefix(stderr.String(), "warning: "))
}

func TestPreviewCommandInvalidInput(t *testing.T) {
	cases := []ScheduleOptions{
		{Total: "abc", Quotas: 3, Start: "2024-01-01"},
		{Total: "100", Quotas: 3, Start: "01/01/2024"},
		{Total: "100", Quotas: 0, Start: "2024-01-01"},
		{Total: "100", Start: "2024-01-01", Custom: []string{"x"}},
	}
	for _, opts := range cases {
		var stderr bytes.Buffer
		opts.Stdout = &bytes.Buffer{}
		opts.Stderr = &stderr
		require.Equal(t, 1, PreviewCommand(opts), "%+v", opts)
		require.NotEmpty(t, stderr.String())
	}
}

func TestRootCommandSchedulePreview(t *testing.T) {
	root := NewRootCommand(nil)
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"schedule", "preview", "--total", "100", "--quotas", "3", "--start", "2024-01-31"})

	require.NoError(t, root.Execute())
	require.Contains(t, stdout.String(), "33.34")
}

func TestRootCommandExitCode(t *testing.T) {
	root := NewRootCommand(nil)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"schedule", "preview", "--total", "100", "--quotas", "0", "--start", "2024-01-31"})

	err := root.Execute()
	var exitErr ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, 1, exitErr.Code)
}

func TestJobsTriggerRequiresClient(t *testing.T) {
	c := &JobsCLI{}
	_, err := c.Trigger(t.Context(), "overdue-scan", "")
	require.Error(t, err)
}
