package builtin

import (
	"fmt"

	"github.com/ottolang/otto/internal/statestore"
)

// FormatStats renders a Stats query's result as human-readable text:
// run count, success rate, and average/min/max/total duration.
func FormatStats(taskName string, s *statestore.Stats) string {
	label := taskName
	if label == "" {
		label = "(all tasks)"
	}
	if s.Count == 0 {
		return fmt.Sprintf("%s: no recorded runs\n", label)
	}
	return fmt.Sprintf(
		"%s: %d runs, %.0f%% success, avg %.1fs, min %.1fs, max %.1fs, total %.1fs\n",
		label, s.Count, s.SuccessRate*100, s.AvgDuration, s.MinDuration, s.MaxDuration, s.TotalTime,
	)
}
