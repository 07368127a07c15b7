package types

// Metadata is a free-form string map carried on invoices and transactions
// for auditability. Keys are never interpreted by the core.
type Metadata map[string]string
