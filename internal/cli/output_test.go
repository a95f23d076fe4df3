package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/watzon/vine/internal/executions"
	"github.com/watzon/vine/internal/scheduler"
)

func sampleStatus() *scheduler.StatusView {
	next := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	return &scheduler.StatusView{
		JobName:          scheduler.JobName,
		JobGroup:         scheduler.JobGroup,
		Enabled:          true,
		Running:          true,
		Status:           scheduler.StateRunning,
		IntervalMinutes:  30,
		NextFireTime:     &next,
		TriggerState:     "NORMAL",
		TotalExecutions:  4,
		FailedExecutions: 1,
		LastErrorMessage: "storage unavailable",
	}
}

func samplePage() *scheduler.HistoryPage {
	end := time.Date(2024, 6, 1, 12, 0, 5, 0, time.UTC)
	n, ms := int64(12), int64(1500)
	return &scheduler.HistoryPage{
		Executions: []*executions.Record{
			{
				ID:               7,
				Status:           executions.StatusCompleted,
				StartTime:        end.Add(-1500 * time.Millisecond),
				EndTime:          &end,
				RecordsProcessed: &n,
				DurationMs:       &ms,
				ProcessToTime:    &end,
			},
			{
				ID:           6,
				Status:       executions.StatusFailed,
				StartTime:    end.Add(-time.Hour),
				ErrorMessage: strings.Repeat("x", 80),
			},
		},
		TotalCount: 9,
		Page:       0,
		Size:       2,
	}
}

func TestValidateFormat(t *testing.T) {
	for _, f := range []string{"table", "json", "yaml"} {
		assert.NoError(t, validateFormat(f), f)
	}
	assert.Error(t, validateFormat("xml"))
	assert.Error(t, validateFormat(""))
}

func TestPrintStatus_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, formatTable, sampleStatus()))

	out := buf.String()
	assert.Contains(t, out, fmt.Sprintf("%-14s %s\n", "Job:", scheduler.JobGroup+"."+scheduler.JobName))
	assert.Contains(t, out, fmt.Sprintf("%-14s %s\n", "Status:", "RUNNING"))
	assert.Contains(t, out, fmt.Sprintf("%-14s %s\n", "Interval:", "30 min"))
	assert.Contains(t, out, fmt.Sprintf("%-14s %s\n", "Watermark:", "-"))
	assert.Contains(t, out, "4 total, 0 successful, 1 failed, 0 running")
	assert.Contains(t, out, fmt.Sprintf("%-14s %s\n", "Last error:", "storage unavailable"))
}

func TestPrintStatus_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, formatJSON, sampleStatus()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "RUNNING", got["status"])
	assert.Equal(t, float64(30), got["intervalMinutes"])
	assert.NotContains(t, got, "startFromTime")
}

func TestPrintStatus_YAMLKeepsFieldNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, formatYAML, sampleStatus()))

	out := buf.String()
	assert.Contains(t, out, "intervalMinutes: 30")
	assert.Contains(t, out, "jobName: "+scheduler.JobName)
	assert.NotContains(t, out, "{")

	var got map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "RUNNING", got["status"])
	assert.Equal(t, 4, got["totalExecutions"])
}

func TestPrintHistory_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printHistory(&buf, formatTable, samplePage()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Equal(t, strings.Repeat("-", historyTableWidth), lines[1])
	assert.Contains(t, lines[2], "COMPLETED")
	assert.Contains(t, lines[2], "1.5s")
	assert.Contains(t, lines[2], "12")
	assert.Contains(t, lines[3], "FAILED")
	assert.Contains(t, lines[3], strings.Repeat("x", errorMessageMaxLen-3)+"...")
	assert.Equal(t, "Showing 2 of 9 (page 0, size 2)", lines[len(lines)-1])
}

func TestPrintHistory_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printHistory(&buf, formatTable, &scheduler.HistoryPage{Size: 20}))
	assert.Equal(t, "No executions recorded.\n", buf.String())
}

func TestPrintHistory_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printHistory(&buf, formatYAML, samplePage()))

	var got struct {
		Executions []map[string]any `yaml:"executions"`
		TotalCount int              `yaml:"totalCount"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 9, got.TotalCount)
	require.Len(t, got.Executions, 2)
	assert.Equal(t, "COMPLETED", got.Executions[0]["status"])
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "-", formatTime(nil))
	assert.Equal(t, "-", formatCount(nil))
	assert.Equal(t, "-", formatDuration(&executions.Record{}))

	n := int64(3)
	assert.Equal(t, "3", formatCount(&n))

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
