package builtin

import (
	"fmt"
	"strings"
	"time"

	"github.com/ottolang/otto/internal/statestore"
)

// FormatHistory renders a History query's results as an aligned text
// table: recent runs with timestamp, status, and duration.
func FormatHistory(runs []statestore.RunSummary) string {
	if len(runs) == 0 {
		return "no runs recorded\n"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-20s  %-10s  %-8s  %-10s  %s\n", "TIMESTAMP", "STATUS", "DURATION", "PROJECT", "OTTOFILE"))
	for _, r := range runs {
		ts := time.Unix(r.Timestamp, 0).Format("2006-01-02 15:04:05")
		b.WriteString(fmt.Sprintf("%-20s  %-10s  %-8.1fs  %-10s  %s\n", ts, r.Status, r.Duration, r.ProjectHash, r.Ottofile))
	}
	return b.String()
}
