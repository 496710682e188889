package orchestrator

// InitiatesOffer decides which side of a fresh pairing creates the offer.
// Both sides evaluate it independently and must agree, so it is a pure total
// order over the two connection handles: the lexicographically smaller
// handle initiates, the other waits for the incoming offer. This keeps both
// sides from issuing simultaneous offers.
func InitiatesOffer(self, peer string) bool {
	return self < peer
}
