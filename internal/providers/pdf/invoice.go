package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// InvoiceDocument is the render-ready view of an invoice. Amounts are
// minor currency units; formatting happens here, not in the services.
type InvoiceDocument struct {
	FirmName    string
	ClientName  string
	ProjectName string

	InvoiceNumber string
	InvoiceDate   string
	DueDate       string
	Currency      string
	Notes         string

	Lines []InvoiceDocumentLine

	Subtotal    int64
	TaxAmount   int64
	TotalAmount int64
}

type InvoiceDocumentLine struct {
	Description string
	Quantity    float64
	UnitPrice   int64
	Amount      int64
}

type Renderer interface {
	RenderInvoice(ctx context.Context, doc InvoiceDocument) (io.Reader, error)
}

type marotoRenderer struct{}

func New() Renderer {
	return &marotoRenderer{}
}

func (r *marotoRenderer) RenderInvoice(ctx context.Context, doc InvoiceDocument) (io.Reader, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Invoice", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(18,
		col.New(6).Add(
			text.New("Invoice number: "+doc.InvoiceNumber, props.Text{Top: 0}),
			text.New("Invoice date: "+doc.InvoiceDate, props.Text{Top: 4}),
			text.New("Due date: "+doc.DueDate, props.Text{Top: 8}),
		),
		col.New(6),
	)

	m.AddRow(30,
		col.New(6).Add(
			text.New(doc.FirmName, props.Text{Style: fontstyle.Bold}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(doc.ClientName, props.Text{Top: 5}),
			text.New(doc.ProjectName, props.Text{Top: 9}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Hours", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Rate", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, line := range doc.Lines {
		m.AddRow(12,
			text.NewCol(6, line.Description, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%.2f", line.Quantity), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, FormatAmount(line.UnitPrice, doc.Currency), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, FormatAmount(line.Amount, doc.Currency), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Subtotal", props.Text{Size: 9}),
		text.NewCol(2, FormatAmount(doc.Subtotal, doc.Currency), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "VAT", props.Text{Size: 9}),
		text.NewCol(2, FormatAmount(doc.TaxAmount, doc.Currency), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, FormatAmount(doc.TotalAmount, doc.Currency), props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	if doc.Notes != "" {
		m.AddRow(20,
			text.NewCol(12, doc.Notes, props.Text{Size: 8, Top: 5}),
		)
	}

	out, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(out.GetBytes()), nil
}

// FormatAmount renders minor units as a grouped decimal with the
// currency code, e.g. 123456 PHP as "PHP 1,234.56".
func FormatAmount(minor int64, currency string) string {
	negative := minor < 0
	if negative {
		minor = -minor
	}
	units := minor / 100
	cents := minor % 100

	digits := fmt.Sprintf("%d", units)
	var grouped strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(d)
	}

	sign := ""
	if negative {
		sign = "-"
	}
	if currency == "" {
		return fmt.Sprintf("%s%s.%02d", sign, grouped.String(), cents)
	}
	return fmt.Sprintf("%s %s%s.%02d", currency, sign, grouped.String(), cents)
}
