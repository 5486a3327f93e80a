// Package normalize provides pure field normalizers applied to every
// mapped cell before validation and dedupe. Values are normalized once at
// parse time; every downstream consumer (dedupe keys, committed leads)
// sees the normalized form.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/lead-import/internal/model"
)

// emailPattern is the basic structural check: something@something.tld.
// Deliverability is not this package's problem.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

var caseFolder = cases.Fold()

// Options tunes locale-dependent normalization.
type Options struct {
	// DefaultCountryCode is prefixed to phone numbers that carry no
	// country code, e.g. "1" for NANP. Empty disables prefixing.
	DefaultCountryCode string `yaml:"default_country_code" mapstructure:"default_country_code"`

	// PostalWidth is the minimum digit width for postal codes; shorter
	// all-digit codes are zero-padded (leading zeros lost to spreadsheet
	// number coercion). Zero disables padding.
	PostalWidth int `yaml:"postal_width" mapstructure:"postal_width"`
}

// DefaultOptions matches the US-centric source data this pipeline mostly sees.
func DefaultOptions() Options {
	return Options{DefaultCountryCode: "1", PostalWidth: 5}
}

// Email trims and case-folds an email address.
func Email(v string) string {
	return caseFolder.String(strings.TrimSpace(v))
}

// ValidEmail reports whether v passes the structural email check.
func ValidEmail(v string) bool {
	return emailPattern.MatchString(v)
}

// phoneSeparators are stripped from phone numbers before digit checks.
var phoneSeparators = strings.NewReplacer(
	" ", "", "-", "", ".", "", "(", "", ")", "", "/", "",
)

// Phone normalizes a phone number: strips known URI prefixes and
// separators, converts a leading 00 to +, and applies the default country
// code when none is present. Returns "" when nothing dialable remains.
func Phone(v string, opts Options) string {
	v = strings.TrimSpace(v)
	lower := strings.ToLower(v)
	for _, prefix := range []string{"tel:", "phone:", "callto:"} {
		if strings.HasPrefix(lower, prefix) {
			v = v[len(prefix):]
			break
		}
	}
	v = phoneSeparators.Replace(strings.TrimSpace(v))

	plus := strings.HasPrefix(v, "+")
	v = strings.TrimPrefix(v, "+")
	if strings.HasPrefix(v, "00") {
		plus = true
		v = v[2:]
	}

	// Anything non-numeric left over means the value was not a phone
	// number; keep only digits.
	var digits strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	v = digits.String()
	if v == "" {
		return ""
	}

	if !plus && opts.DefaultCountryCode != "" && !strings.HasPrefix(v, opts.DefaultCountryCode) {
		v = opts.DefaultCountryCode + v
	}
	return "+" + v
}

// Postal zero-pads undersized all-digit postal codes back to their
// canonical width. Non-numeric codes pass through trimmed.
func Postal(v string, opts Options) string {
	v = strings.TrimSpace(v)
	if opts.PostalWidth <= 0 || len(v) >= opts.PostalWidth {
		return v
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return v
		}
	}
	if v == "" {
		return ""
	}
	return strings.Repeat("0", opts.PostalWidth-len(v)) + v
}

// Apply normalizes a raw cell value for its target field. Fields without
// a dedicated normalizer are trimmed only.
func Apply(field, value string, opts Options) string {
	switch field {
	case model.FieldEmail:
		return Email(value)
	case model.FieldPhone:
		return Phone(value, opts)
	case model.FieldPostalCode:
		return Postal(value, opts)
	default:
		return strings.TrimSpace(value)
	}
}
