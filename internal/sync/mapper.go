package sync

import (
	"strings"

	"github.com/projectpulse/pulse/internal/types"
)

// statusKeywords maps internal statuses to the external status substrings
// that select them. Order matters: the first entry whose keyword set
// matches wins, so "in progress" is tested before "review" catches it.
var statusKeywords = []struct {
	status   types.TaskStatus
	keywords []string
}{
	{types.StatusDone, []string{"done", "closed", "resolved", "complete"}},
	{types.StatusInProgress, []string{"in progress", "active", "developing", "started"}},
	{types.StatusInReview, []string{"in review", "review", "testing", "qa"}},
	{types.StatusBlocked, []string{"blocked", "on hold", "stuck"}},
}

// MapStatus converts an external issue-tracker status name to an internal
// task status. Matching is a case-insensitive substring test; anything
// unrecognized falls back to todo, so the function is total.
func MapStatus(external string) types.TaskStatus {
	lower := strings.ToLower(external)
	for _, entry := range statusKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.status
			}
		}
	}
	return types.StatusTodo
}
