package btcradar

// Event kinds used on the wire. KindLocation carries a plaintext position update
// scoped to the shared event-space, KindEncryptedLocation carries a nip04
// encrypted copy addressed to one group member.
const (
	KindProfileMetadata   = 0
	KindEncryptedLocation = 4
	KindZapRequest        = 9734
	KindZapReceipt        = 9735
	KindGroup             = 30000
	KindGroupMembership   = 30001
	KindLocation          = 30023
)
