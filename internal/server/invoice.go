package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/wipline/internal/invoice/domain"
	projectdomain "github.com/smallbiznis/wipline/internal/project/domain"
	"github.com/smallbiznis/wipline/internal/providers/pdf"
	"github.com/smallbiznis/wipline/pkg/tenantctx"
)

type generateInvoiceRequest struct {
	ProjectID         string   `json:"project_id" binding:"required"`
	InvoiceDate       string   `json:"invoice_date"`
	DueDate           string   `json:"due_date"`
	TimesheetEntryIDs []string `json:"timesheet_entry_ids"`
	Notes             string   `json:"notes"`
}

func (s *Server) GenerateInvoice(c *gin.Context) {
	var body generateInvoiceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	projectID, err := snowflake.ParseString(strings.TrimSpace(body.ProjectID))
	if err != nil || projectID == 0 {
		AbortWithError(c, newValidationError("project_id", "invalid_id", "invalid project id"))
		return
	}
	invoiceDate, err := parseOptionalTime(body.InvoiceDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("invoice_date", "invalid_date", "invalid invoice date"))
		return
	}
	dueDate, err := parseOptionalTime(body.DueDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("due_date", "invalid_date", "invalid due date"))
		return
	}
	entryIDs := make([]snowflake.ID, 0, len(body.TimesheetEntryIDs))
	for _, raw := range body.TimesheetEntryIDs {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil || id == 0 {
			AbortWithError(c, newValidationError("timesheet_entry_ids", "invalid_id", "invalid timesheet entry id"))
			return
		}
		entryIDs = append(entryIDs, id)
	}

	summary, err := s.invoiceSvc.Generate(c.Request.Context(), invoicedomain.GenerateRequest{
		ProjectID:         projectID,
		InvoiceDate:       invoiceDate,
		DueDate:           dueDate,
		TimesheetEntryIDs: entryIDs,
		Notes:             body.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, summary)
}

func (s *Server) ListInvoices(c *gin.Context) {
	projectID, err := parseOptionalSnowflakeID(c.Query("project_id"))
	if err != nil {
		AbortWithError(c, newValidationError("project_id", "invalid_id", "invalid project id"))
		return
	}
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	req := invoicedomain.ListInvoicesRequest{
		ProjectID: projectID,
		Status:    invoicedomain.InvoiceStatus(strings.TrimSpace(c.Query("status"))),
	}
	if limit != nil {
		req.Limit = *limit
	}
	invoices, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondOK(c, http.StatusOK, gin.H{"invoices": invoices})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	detail, err := s.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondOK(c, http.StatusOK, detail)
}

func (s *Server) DownloadInvoicePDF(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	ctx := c.Request.Context()
	detail, err := s.invoiceSvc.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.buildInvoiceDocument(c, detail)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	reader, err := s.pdfRenderer.RenderInvoice(ctx, doc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+detail.Invoice.Number+`.pdf"`)
	c.DataFromReader(http.StatusOK, -1, "application/pdf", reader, nil)
}

func (s *Server) buildInvoiceDocument(c *gin.Context, detail *invoicedomain.InvoiceDetail) (pdf.InvoiceDocument, error) {
	ctx := c.Request.Context()
	inv := detail.Invoice

	doc := pdf.InvoiceDocument{
		InvoiceNumber: inv.Number,
		InvoiceDate:   inv.InvoiceDate.Format(dateOnlyLayout),
		DueDate:       inv.DueDate.Format(dateOnlyLayout),
		Notes:         inv.Notes,
		Subtotal:      inv.Subtotal,
		TaxAmount:     inv.TaxAmount,
		TotalAmount:   inv.TotalAmount,
	}

	if tenantID, ok := tenantctx.TenantID(ctx); ok {
		if t, err := s.tenantSvc.Get(ctx, snowflake.ID(tenantID)); err == nil && t != nil {
			doc.FirmName = t.Name
			doc.Currency = t.Currency
		}
	}

	var project projectdomain.Project
	if err := s.db.WithContext(ctx).Where("id = ?", inv.ProjectID).First(&project).Error; err == nil {
		doc.ProjectName = project.Name
	}
	var client projectdomain.Client
	if err := s.db.WithContext(ctx).Where("id = ?", inv.ClientID).First(&client).Error; err == nil {
		doc.ClientName = client.Name
	}

	for _, line := range detail.Lines {
		doc.Lines = append(doc.Lines, pdf.InvoiceDocumentLine{
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Amount:      line.LineTotal,
		})
	}
	return doc, nil
}
