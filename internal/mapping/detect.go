// Package mapping builds the frozen column→field table for an import job
// by matching header names against a static alias dictionary. Detection
// is pure and deterministic: the same header row always yields the same
// mapping, in the same order.
package mapping

import (
	"strings"

	"github.com/sells-group/lead-import/internal/model"
)

// aliasTable maps each target field to its known header spellings, in
// priority order. Matching happens on the canonical form (lowercased,
// separators collapsed).
var aliasTable = []struct {
	target  string
	aliases []string
}{
	{model.FieldEmail, []string{"email", "email address", "e mail", "mail", "work email"}},
	{model.FieldPhone, []string{"phone", "phone number", "telephone", "mobile", "cell", "work phone"}},
	{model.FieldExternalID, []string{"external id", "lead id", "record id", "crm id", "id"}},
	{model.FieldFirstName, []string{"first name", "firstname", "given name", "first"}},
	{model.FieldLastName, []string{"last name", "lastname", "surname", "family name", "last"}},
	{model.FieldCompany, []string{"company", "company name", "organization", "organisation", "account", "employer"}},
	{model.FieldTitle, []string{"title", "job title", "position", "role"}},
	{model.FieldCity, []string{"city", "town"}},
	{model.FieldState, []string{"state", "province", "region"}},
	{model.FieldPostalCode, []string{"postal code", "zip", "zip code", "postcode"}},
	{model.FieldStatus, []string{"status", "lead status", "stage"}},
	{model.FieldSource, []string{"source", "lead source", "channel"}},
	{model.FieldOwner, []string{"owner", "lead owner", "assigned to", "sales rep", "agent"}},
}

// Confidence levels for the three match grades. Anything below
// minConfidence leaves the column unmapped.
const (
	confExact     = 1.0
	confPartial   = 0.8
	confOverlap   = 0.6
	minConfidence = 0.5
)

// Detect builds a ColumnMapping from a header row. Columns are considered
// in file order; each target field is claimed at most once, first match
// wins. Unmatched columns stay in the mapping with an empty target so the
// parser can carry their raw values through.
func Detect(header []string) *model.ColumnMapping {
	m := &model.ColumnMapping{Columns: make([]model.ColumnMap, 0, len(header))}
	claimed := make(map[string]bool, len(aliasTable))

	for i, source := range header {
		col := model.ColumnMap{Source: source, Index: i}

		target, conf := match(canonical(source), claimed)
		if conf >= minConfidence {
			col.Target = target
			col.Confidence = conf
			claimed[target] = true
		}
		m.Columns = append(m.Columns, col)
	}
	return m
}

// match scores the canonical header name against every unclaimed target
// and returns the best one. Ties break by alias table order, which is
// what keeps detection order-stable.
func match(name string, claimed map[string]bool) (string, float64) {
	if name == "" {
		return "", 0
	}

	bestTarget := ""
	bestConf := 0.0
	for _, entry := range aliasTable {
		if claimed[entry.target] {
			continue
		}
		conf := scoreAliases(name, entry.aliases)
		if conf > bestConf {
			bestTarget = entry.target
			bestConf = conf
		}
	}
	return bestTarget, bestConf
}

func scoreAliases(name string, aliases []string) float64 {
	best := 0.0
	for _, alias := range aliases {
		if s := score(name, alias); s > best {
			best = s
		}
	}
	return best
}

func score(name, alias string) float64 {
	if name == alias {
		return confExact
	}
	if strings.HasPrefix(name, alias) || strings.HasSuffix(name, alias) {
		return confPartial
	}
	if tokenOverlap(name, alias) {
		return confOverlap
	}
	return 0
}

// tokenOverlap reports whether every token of the alias appears in the
// header name ("primary email address" matches alias "email address").
func tokenOverlap(name, alias string) bool {
	nameTokens := strings.Fields(name)
	have := make(map[string]bool, len(nameTokens))
	for _, t := range nameTokens {
		have[t] = true
	}
	for _, t := range strings.Fields(alias) {
		if !have[t] {
			return false
		}
	}
	return true
}

// canonical lowercases a header and collapses separator punctuation to
// single spaces: "E-Mail_Address" → "e mail address".
func canonical(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', '.', '/', ':', '#':
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
