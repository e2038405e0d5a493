package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/jfoltran/cdcingester/internal/metrics"
)

var throughputValueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))

// RenderThroughput renders the per-kind decoded event counters.
func RenderThroughput(snap metrics.Snapshot, width int) string {
	rate := throughputValueStyle.Render(fmt.Sprintf("%.0f events/s", snap.EventsPerSec))

	errStr := ""
	if snap.ErrorCount > 0 {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
		errStr = fmt.Sprintf("  Errors: %s", errStyle.Render(fmt.Sprintf("%d", snap.ErrorCount)))
	}

	reconnectStr := ""
	if snap.ReconnectCount > 0 {
		reconnectStr = fmt.Sprintf("  Reconnects: %d", snap.ReconnectCount)
	}

	return fmt.Sprintf("  %s  |  Inserts: %s  Updates: %s  Deletes: %s  Commits: %s  |  Total: %s%s%s",
		rate,
		formatCount(snap.InsertCount),
		formatCount(snap.UpdateCount),
		formatCount(snap.DeleteCount),
		formatCount(snap.CommitCount),
		formatCount(snap.EventsTotal),
		errStr,
		reconnectStr)
}

func formatCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	default:
		return fmt.Sprintf("%d", n)
	}
}
