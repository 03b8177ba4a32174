package pdf

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "PHP 0.00", FormatAmount(0, "PHP"))
	assert.Equal(t, "PHP 33.60", FormatAmount(3360, "PHP"))
	assert.Equal(t, "PHP 1,234.56", FormatAmount(123_456, "PHP"))
	assert.Equal(t, "PHP 1,000,000.00", FormatAmount(100_000_000, "PHP"))
	assert.Equal(t, "PHP -33.60", FormatAmount(-3360, "PHP"))
	assert.Equal(t, "12.05", FormatAmount(1205, ""))
}

func TestRenderInvoiceProducesPDF(t *testing.T) {
	renderer := New()

	doc := InvoiceDocument{
		FirmName:      "Main Firm",
		ClientName:    "Acme Holdings",
		ProjectName:   "Statutory Audit",
		InvoiceNumber: "INV-000001",
		InvoiceDate:   "2026-04-01",
		DueDate:       "2026-05-01",
		Currency:      "PHP",
		Lines: []InvoiceDocumentLine{
			{Description: "Professional services 2026-03-25", Quantity: 8, UnitPrice: 125, Amount: 1000},
			{Description: "Professional services 2026-03-26", Quantity: 8, UnitPrice: 250, Amount: 2000},
		},
		Subtotal:    3000,
		TaxAmount:   360,
		TotalAmount: 3360,
	}

	reader, err := renderer.RenderInvoice(context.Background(), doc)
	require.NoError(t, err)

	raw, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	assert.Equal(t, "%PDF", string(raw[:4]))
}
