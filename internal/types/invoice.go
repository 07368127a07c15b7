package types

import "fmt"

// InvoiceStatus is the lifecycle status of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "draft"
	InvoiceStatusOpen  InvoiceStatus = "open"
	InvoiceStatusPaid  InvoiceStatus = "paid"
	InvoiceStatusVoid  InvoiceStatus = "void"
)

func (s InvoiceStatus) String() string {
	return string(s)
}

func (s InvoiceStatus) Validate() error {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusOpen, InvoiceStatusPaid, InvoiceStatusVoid:
		return nil
	default:
		return fmt.Errorf("invalid invoice status: %s", s)
	}
}

// InvoiceItemKind classifies invoice line items.
type InvoiceItemKind string

const (
	InvoiceItemKindSubscription InvoiceItemKind = "subscription"
	InvoiceItemKindUsage        InvoiceItemKind = "usage"
	InvoiceItemKindOneTime      InvoiceItemKind = "one_time"
)
