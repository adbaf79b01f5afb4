package formatting

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"conductor/internal/orchestrator"
)

func TestFormatReportClean(t *testing.T) {
	report := &orchestrator.Report{
		Reason:          "SIGTERM",
		StartedAt:       time.Now(),
		Duration:        1200 * time.Millisecond,
		CompletedPhases: orchestrator.PhaseOrder,
	}

	out := FormatReport(report)
	assert.Contains(t, out, "SIGTERM")
	assert.Contains(t, out, "clean")
	for _, phase := range orchestrator.PhaseOrder {
		assert.Contains(t, out, string(phase))
	}
}

func TestFormatReportWithErrors(t *testing.T) {
	report := &orchestrator.Report{
		Reason:          "SIGINT",
		Duration:        3 * time.Second,
		CompletedPhases: orchestrator.PhaseOrder,
		Errors: []orchestrator.PhaseError{
			{
				Phase: orchestrator.PhaseCleanupResources,
				Name:  "scratch",
				Err:   errors.New("unmount busy"),
			},
		},
	}

	out := FormatReport(report)
	assert.Contains(t, out, "1 error(s)")
	assert.Contains(t, out, "scratch")
	assert.Contains(t, out, "unmount busy")
}
