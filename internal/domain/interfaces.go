package domain

import "context"

// QuoteStreamer is the market-data half of a venue client. StreamQuotes
// blocks, pushing normalized quotes (Seq unassigned) into out until the
// connection drops or ctx is cancelled. The caller handles reconnection.
type QuoteStreamer interface {
	Venue() string
	StreamQuotes(ctx context.Context, instruments []string, out chan<- Quote) error
}

// OrderGateway is the order-entry half of a venue client. Implementations
// are assumed idempotent-safe with client-supplied order identifiers.
type OrderGateway interface {
	Venue() string
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, clientOrderID string) error
}

// VenueClient is the full per-venue capability set.
type VenueClient interface {
	QuoteStreamer
	OrderGateway
}

// Auditor records pipeline events. Record never fails the calling stage.
type Auditor interface {
	Record(kind AuditKind, ref, instrument, venue, detail string)
}

// Alerter delivers operator-visible notifications off the hot path.
type Alerter interface {
	Alert(ctx context.Context, message string)
}
