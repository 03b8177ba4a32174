// Package format holds the pure document-number formatters. They never
// touch storage; sequence allocation happens in the owning service.
package format

import (
	"fmt"
	"strconv"
	"strings"
)

const invoicePrefix = "INV-"

// InvoiceNumber renders a tenant-scoped sequence value as INV-NNNNNN.
// Values beyond six digits widen rather than wrap.
func InvoiceNumber(seq int64) string {
	if seq < 0 {
		seq = 0
	}
	return fmt.Sprintf("%s%06d", invoicePrefix, seq)
}

// ParseInvoiceNumber extracts the sequence value from a formatted number.
func ParseInvoiceNumber(number string) (int64, bool) {
	number = strings.TrimSpace(number)
	if !strings.HasPrefix(number, invoicePrefix) {
		return 0, false
	}
	raw := strings.TrimPrefix(number, invoicePrefix)
	if raw == "" {
		return 0, false
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}
