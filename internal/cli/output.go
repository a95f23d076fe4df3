package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/watzon/vine/internal/executions"
	"github.com/watzon/vine/internal/scheduler"
)

// Output formats accepted by -o.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

const (
	historyTableWidth  = 110
	errorMessageMaxLen = 40
	displayTimeLayout  = "2006-01-02 15:04:05"
)

func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return errors.Newf("unknown output format %q (use table, json or yaml)", format)
	}
}

// writeStructured writes v as JSON or YAML. It reports false for table output.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		node, err := yamlNode(v)
		if err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(node); err != nil {
			return true, err
		}
		return true, enc.Close()
	default:
		return false, nil
	}
}

func printStatus(w io.Writer, format string, view *scheduler.StatusView) error {
	if done, err := writeStructured(w, format, view); done {
		return err
	}

	rows := []struct {
		label string
		value string
	}{
		{"Job", view.JobGroup + "." + view.JobName},
		{"Status", string(view.Status)},
		{"Enabled", strconv.FormatBool(view.Enabled)},
		{"Running", strconv.FormatBool(view.Running)},
		{"Interval", fmt.Sprintf("%d min", view.IntervalMinutes)},
		{"Trigger state", view.TriggerState},
		{"Next fire", formatTime(view.NextFireTime)},
		{"Last run", formatTime(view.LastRunTime)},
		{"Last start", formatTime(view.LastStartTime)},
		{"Last stop", formatTime(view.LastStopTime)},
		{"Watermark", formatTime(view.StartFromTime)},
		{"Next window", formatTime(view.NextWindowStart)},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%-14s %s\n", r.label+":", r.value)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-14s %d total, %d successful, %d failed, %d running\n",
		"Executions:", view.TotalExecutions, view.SuccessfulExecutions, view.FailedExecutions, view.RunningExecutions)
	if view.LastErrorMessage != "" {
		fmt.Fprintf(w, "%-14s %s\n", "Last error:", view.LastErrorMessage)
	}
	return nil
}

func printHistory(w io.Writer, format string, page *scheduler.HistoryPage) error {
	if done, err := writeStructured(w, format, page); done {
		return err
	}

	if len(page.Executions) == 0 {
		fmt.Fprintln(w, "No executions recorded.")
		return nil
	}

	fmt.Fprintf(w, "%-8s %-12s %-20s %-10s %-8s %-20s %s\n",
		"ID", "STATUS", "STARTED", "DURATION", "RECORDS", "WINDOW END", "ERROR")
	fmt.Fprintln(w, strings.Repeat("-", historyTableWidth))

	for _, rec := range page.Executions {
		fmt.Fprintf(w, "%-8d %-12s %-20s %-10s %-8s %-20s %s\n",
			rec.ID,
			rec.Status,
			rec.StartTime.Local().Format(displayTimeLayout),
			formatDuration(rec),
			formatCount(rec.RecordsProcessed),
			formatTime(rec.ProcessToTime),
			truncate(rec.ErrorMessage, errorMessageMaxLen),
		)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Showing %d of %d (page %d, size %d)\n", len(page.Executions), page.TotalCount, page.Page, page.Size)
	return nil
}

// yamlNode re-reads the JSON encoding of v as YAML so that keys keep their
// JSON names and order.
func yamlNode(v any) (*yaml.Node, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encoding output")
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "converting output to yaml")
	}
	blockStyle(&doc)
	return &doc, nil
}

// blockStyle drops the flow and quoting styles the JSON input carries.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(displayTimeLayout)
}

func formatDuration(rec *executions.Record) string {
	if rec.DurationMs == nil {
		return "-"
	}
	return (time.Duration(*rec.DurationMs) * time.Millisecond).String()
}

func formatCount(n *int64) string {
	if n == nil {
		return "-"
	}
	return strconv.FormatInt(*n, 10)
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}
