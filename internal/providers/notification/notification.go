package notification

import "context"

// Event is a fire-and-forget finance notification. Delivery is best effort
// with no ordering guarantee; callers must never depend on the outcome.
type Event struct {
	Type     string         `json:"type"`
	TenantID string         `json:"tenant_id"`
	Payload  map[string]any `json:"payload,omitempty"`
}

const (
	EventReadyToInvoice = "wip.ready_to_invoice"
	EventInvoiceCreated = "invoice.created"
	EventNightlyReport  = "jobs.nightly_report"
)

type Port interface {
	Notify(ctx context.Context, event Event)
}

type NoOpPort struct{}

func (p *NoOpPort) Notify(ctx context.Context, event Event) {}
