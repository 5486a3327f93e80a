package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/lead-import/internal/model"
)

func TestEmail(t *testing.T) {
	assert.Equal(t, "a@x.com", Email(" A@X.com "))
	assert.Equal(t, "jörg@beispiel.de", Email("JÖRG@Beispiel.DE"))
	assert.Equal(t, "", Email("   "))
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("a@x.com"))
	assert.True(t, ValidEmail("first.last+tag@sub.domain.io"))
	assert.False(t, ValidEmail("not-an-email"))
	assert.False(t, ValidEmail("missing@tld"))
	assert.False(t, ValidEmail("two@@x.com"))
	assert.False(t, ValidEmail("spaces in@x.com"))
}

func TestPhone(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, "+15551234567", Phone("(555) 123-4567", opts))
	assert.Equal(t, "+15551234567", Phone("555.123.4567", opts))
	assert.Equal(t, "+15551234567", Phone("tel:555-123-4567", opts))
	assert.Equal(t, "+442071234567", Phone("+44 20 7123 4567", opts))
	assert.Equal(t, "+442071234567", Phone("0044 20 7123 4567", opts))
	assert.Equal(t, "", Phone("n/a", opts))
	assert.Equal(t, "", Phone("", opts))
}

func TestPhone_NoDefaultCountry(t *testing.T) {
	opts := Options{}
	assert.Equal(t, "+5551234567", Phone("555-123-4567", opts))
}

func TestPostal(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, "01234", Postal("1234", opts))
	assert.Equal(t, "00042", Postal("42", opts))
	assert.Equal(t, "98101", Postal("98101", opts))
	assert.Equal(t, "98101-1420", Postal("98101-1420", opts))
	assert.Equal(t, "SW1A 1AA", Postal("SW1A 1AA", opts))
	assert.Equal(t, "", Postal("  ", opts))
}

func TestApply(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, "a@x.com", Apply(model.FieldEmail, " A@X.com ", opts))
	assert.Equal(t, "+15551234567", Apply(model.FieldPhone, "(555) 123-4567", opts))
	assert.Equal(t, "01234", Apply(model.FieldPostalCode, "1234", opts))
	assert.Equal(t, "Acme Corp", Apply(model.FieldCompany, "  Acme Corp  ", opts))
}
