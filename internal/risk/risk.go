package risk

// Limits encodes guard-rails on how large a bid the engine may push upstream.
// A zero or negative ceiling disables the cap.
type Limits struct {
	MaxBidPerPush float64
}

func (l Limits) Allow(amount float64) bool {
	if l.MaxBidPerPush <= 0 {
		return true
	}
	return amount <= l.MaxBidPerPush
}
