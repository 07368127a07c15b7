package types

// Status is the lifecycle status of a stored resource. It is used to
// soft-delete configuration rows without breaking historical references.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDeleted  Status = "deleted"
)
