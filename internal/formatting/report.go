// Package formatting renders shutdown reports for terminal output.
package formatting

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"conductor/internal/orchestrator"
)

// FormatReport renders the shutdown report as a rounded table, one row per
// phase, followed by the accumulated errors.
func FormatReport(report *orchestrator.Report) string {
	var b strings.Builder

	status := text.FgGreen.Sprint("clean")
	if !report.Success() {
		status = text.FgRed.Sprintf("%d error(s)", len(report.Errors))
	}
	fmt.Fprintf(&b, "Shutdown (%s) finished in %s: %s\n",
		report.Reason, report.Duration.Round(time.Millisecond), status)

	errsByPhase := make(map[orchestrator.Phase][]orchestrator.PhaseError)
	for _, pe := range report.Errors {
		errsByPhase[pe.Phase] = append(errsByPhase[pe.Phase], pe)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("PHASE"),
		text.FgHiCyan.Sprint("RESULT"),
	})
	for _, phase := range report.CompletedPhases {
		result := text.FgGreen.Sprint("ok")
		if n := len(errsByPhase[phase]); n > 0 {
			result = text.FgRed.Sprintf("%d error(s)", n)
		}
		t.AppendRow(table.Row{string(phase), result})
	}
	b.WriteString(t.Render())
	b.WriteString("\n")

	for _, pe := range report.Errors {
		name := pe.Name
		if name == "" {
			name = string(pe.Phase)
		}
		fmt.Fprintf(&b, "%s %s: %v\n", text.FgRed.Sprint("✗"), name, pe.Err)
	}
	return b.String()
}
