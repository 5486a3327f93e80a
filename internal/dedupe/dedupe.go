// Package dedupe classifies normalized rows as duplicates against a
// preloaded index of existing-store keys and a growing set of keys seen
// earlier in the same file. Matching is exact on already-normalized
// values; there is no fuzzy matching.
package dedupe

import (
	"github.com/sells-group/lead-import/internal/model"
)

// Match sources.
const (
	SourceStore = "store"
	SourceFile  = "file"
)

// Match describes which key a duplicate row collided on.
type Match struct {
	Field  string
	Value  string
	LeadID string // known for in-file matches and preloaded store matches
	Source string
}

// Action is the per-row outcome of applying the job's duplicate strategy.
type Action int

const (
	// ActionInsert commits the row as a new record.
	ActionInsert Action = iota
	// ActionSkip marks the row skipped without touching the store.
	ActionSkip
	// ActionUpdate defers the row to the batched existing-record lookup;
	// if the match resolves the record is updated, otherwise the row
	// falls back to skip.
	ActionUpdate
)

// Decision pairs an action with the match that produced it (nil for
// non-duplicates).
type Decision struct {
	Action Action
	Match  *Match
}

// Key builds the index key for one dedupe field value.
func Key(field, value string) string {
	return field + ":" + value
}

// Engine holds the duplicate configuration and both key sets for one
// commit invocation. It is not safe for concurrent use; the commit worker
// processes rows in file order, which is also what makes the
// first-occurrence-wins tie-break hold.
type Engine struct {
	cfg   *model.DuplicateConfig
	store map[string]string // field:value -> lead id, preloaded
	file  map[string]string // field:value -> lead id, grown via Accept
}

// NewEngine builds an engine from the job's duplicate configuration and a
// preloaded index of existing-store keys. storeKeys may be nil when the
// job does not check the store.
func NewEngine(cfg *model.DuplicateConfig, storeKeys map[string]string) *Engine {
	return &Engine{
		cfg:   cfg,
		store: storeKeys,
		file:  make(map[string]string),
	}
}

// Classify returns the first duplicate match for the row, checking fields
// in configured order, the in-file set before the store set. Returns nil
// for non-duplicates.
func (e *Engine) Classify(row *model.Row) *Match {
	if e.cfg == nil {
		return nil
	}
	for _, field := range e.cfg.Fields {
		value := row.Field(field)
		if value == "" {
			continue
		}
		key := Key(field, value)

		if e.cfg.CheckFile {
			if leadID, ok := e.file[key]; ok {
				return &Match{Field: field, Value: value, LeadID: leadID, Source: SourceFile}
			}
		}
		if e.cfg.CheckStore {
			if leadID, ok := e.store[key]; ok {
				return &Match{Field: field, Value: value, LeadID: leadID, Source: SourceStore}
			}
		}
	}
	return nil
}

// Resolve applies the job's duplicate strategy to the row.
func (e *Engine) Resolve(row *model.Row) Decision {
	if e.cfg == nil || e.cfg.Strategy == model.DupStrategyCreate {
		// create inserts regardless of the duplicate flag.
		return Decision{Action: ActionInsert}
	}

	match := e.Classify(row)
	if match == nil {
		return Decision{Action: ActionInsert}
	}

	switch e.cfg.Strategy {
	case model.DupStrategyUpdate:
		return Decision{Action: ActionUpdate, Match: match}
	default:
		return Decision{Action: ActionSkip, Match: match}
	}
}

// Accept records an accepted (inserted or updated) row's keys in the
// in-file set, so a later row in the same file colliding with it is
// caught even though it was absent from the original store index.
func (e *Engine) Accept(row *model.Row, leadID string) {
	if e.cfg == nil {
		return
	}
	for _, field := range e.cfg.Fields {
		value := row.Field(field)
		if value == "" {
			continue
		}
		key := Key(field, value)
		// First occurrence in file order wins: never overwrite, so later
		// collisions resolve against the first accepted row.
		if _, ok := e.file[key]; !ok {
			e.file[key] = leadID
		}
	}
}

// GroupUpdates buckets deferred update decisions by match field so the
// worker can resolve each bucket with one store query per batch instead
// of one per row. Only store-sourced matches need resolution; in-file
// matches already carry the lead id of their first occurrence.
func GroupUpdates(decisions map[int]Decision) map[string][]string {
	groups := make(map[string][]string)
	seen := make(map[string]bool)
	for _, d := range decisions {
		if d.Action != ActionUpdate || d.Match == nil || d.Match.Source != SourceStore {
			continue
		}
		key := Key(d.Match.Field, d.Match.Value)
		if seen[key] {
			continue
		}
		seen[key] = true
		groups[d.Match.Field] = append(groups[d.Match.Field], d.Match.Value)
	}
	return groups
}
