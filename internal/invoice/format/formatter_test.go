package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvoiceNumber(t *testing.T) {
	assert.Equal(t, "INV-000001", InvoiceNumber(1))
	assert.Equal(t, "INV-000042", InvoiceNumber(42))
	assert.Equal(t, "INV-999999", InvoiceNumber(999_999))

	// Beyond six digits the number widens instead of wrapping.
	assert.Equal(t, "INV-1000000", InvoiceNumber(1_000_000))

	assert.Equal(t, "INV-000000", InvoiceNumber(-5))
}

func TestParseInvoiceNumber(t *testing.T) {
	seq, ok := ParseInvoiceNumber("INV-000042")
	assert.True(t, ok)
	assert.Equal(t, int64(42), seq)

	seq, ok = ParseInvoiceNumber(" INV-1000000 ")
	assert.True(t, ok)
	assert.Equal(t, int64(1_000_000), seq)

	for _, bad := range []string{"", "INV-", "INV-abc", "000042", "inv-000042"} {
		_, ok := ParseInvoiceNumber(bad)
		assert.False(t, ok, bad)
	}
}
