package domain

import "time"

// AuditKind classifies audit records. One record is written per detected
// opportunity and per execution-intent transition.
type AuditKind string

const (
	AuditOpportunityDetected AuditKind = "OPPORTUNITY_DETECTED"
	AuditGateApproved        AuditKind = "GATE_APPROVED"
	AuditGateRejected        AuditKind = "GATE_REJECTED"
	AuditIntentPending       AuditKind = "INTENT_PENDING"
	AuditLegFilled           AuditKind = "LEG_FILLED"
	AuditLegFailed           AuditKind = "LEG_FAILED"
	AuditUnwindAttempted     AuditKind = "UNWIND_ATTEMPTED"
	AuditUnwindFailed        AuditKind = "UNWIND_FAILED"
	AuditIntentFilled        AuditKind = "INTENT_FILLED"
	AuditIntentFailed        AuditKind = "INTENT_FAILED"
	AuditFeedDisconnected    AuditKind = "FEED_DISCONNECTED"
	AuditBackpressure        AuditKind = "BACKPRESSURE"
)

// AuditRecord is an append-only entry ordered by a monotonic logical clock.
// Never mutated after write.
type AuditRecord struct {
	Clock      uint64    `gorm:"primaryKey;autoIncrement:false" json:"clock"`
	Kind       AuditKind `gorm:"index" json:"kind"`
	Ref        string    `gorm:"index" json:"ref"` // opportunity or intent ID
	Instrument string    `json:"instrument"`
	Venue      string    `json:"venue"` // single-venue events (feed, leg)
	Detail     string    `json:"detail"`
	At         time.Time `json:"at"`
}
