// Package assign computes the owning agent for each imported lead from
// the job's assignment configuration.
package assign

import (
	"strings"

	"github.com/sells-group/lead-import/internal/model"
)

// Cursor is the round-robin position. It is an explicit value threaded
// through one commit invocation's batch loop, never global state: a
// restarted invocation begins again at zero, trading strict cross-restart
// fairness for statelessness.
type Cursor int

// Result carries the assignment outcome for one row.
type Result struct {
	UserID string
	// Fallback marks a by_column row whose source value was missing or
	// unknown and fell back to the configured default. Counted on the
	// job so the silent fallback stays observable.
	Fallback bool
}

// Next returns the owner for a row and the advanced cursor. The cursor is
// only consumed by round_robin mode; other modes return it unchanged.
func Next(cfg *model.AssignmentConfig, row *model.Row, cursor Cursor) (Result, Cursor) {
	if cfg == nil {
		return Result{}, cursor
	}

	switch cfg.Mode {
	case model.AssignModeSingle:
		return Result{UserID: cfg.UserID}, cursor

	case model.AssignModeRoundRobin:
		if len(cfg.UserIDs) == 0 {
			return Result{}, cursor
		}
		id := cfg.UserIDs[int(cursor)%len(cfg.UserIDs)]
		return Result{UserID: id}, cursor + 1

	case model.AssignModeByColumn:
		return byColumn(cfg, row), cursor

	default: // none
		return Result{}, cursor
	}
}

// byColumn reads the raw value of the configured source column and maps
// it through the job-supplied name→id table. Unknown or missing values
// take the configured default so every imported row has a resolvable
// owner under this mode.
func byColumn(cfg *model.AssignmentConfig, row *model.Row) Result {
	raw := ""
	if row.Raw != nil {
		raw = strings.TrimSpace(row.Raw[cfg.Column])
	}
	if raw != "" {
		if id, ok := cfg.Table[raw]; ok {
			return Result{UserID: id}
		}
	}
	return Result{UserID: cfg.DefaultUserID, Fallback: true}
}
