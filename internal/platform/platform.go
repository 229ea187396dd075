// Package platform hosts connectors for the external auction venues the sync
// engine reconciles: the eBay marketplace and the Artifacte on-chain platform.
package platform

import "context"

// Quote is a point-in-time read of an auction's bidding state on one platform.
type Quote struct {
	Amount   float64
	BidCount int
}

// Receipt confirms an accepted bid submission.
type Receipt struct {
	// Confirmation is the platform-assigned token for the accepted bid
	// (eBay PlaceOffer ack, Artifacte transaction signature).
	Confirmation string
	Amount       float64
}

// BidSource is the capability both venues implement. The reconciliation loop
// depends only on this interface so either side can be replaced by a test double.
type BidSource interface {
	// Name identifies the platform in logs and metrics.
	Name() string
	// FetchCurrentBid reads the current bid for the referenced auction.
	FetchCurrentBid(ctx context.Context, ref string) (Quote, error)
	// SubmitBid places a real bid on the platform. Callers must not retry this
	// blindly: neither venue offers an idempotency key, so a retried submit can
	// legitimately double-bid.
	SubmitBid(ctx context.Context, ref string, amount float64) (Receipt, error)
}
