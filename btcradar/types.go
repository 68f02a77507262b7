package btcradar

// Account is a hex encoded x-only public key. It uniquely identifies a participant
// for the life of a session and is the author field on every event we sign.
type Account = string

type S256Hash = string

type Wallet struct {
	PrivateKey string
	SeedWords  string
	Account    Account
}

// PositionSample is one fix from the position provider. We only ever keep the
// latest sample, there is no history buffer.
type PositionSample struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"` //metres, 0 means unknown
	Timestamp int64   `json:"timestamp"`          //unix seconds
}

// Profile is the kind 0 metadata we care about: display fields for the roster
// and the lightning fields for zaps.
type Profile struct {
	Pubkey      Account `json:"pubkey"`
	Name        string  `json:"name,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Picture     string  `json:"picture,omitempty"`
	Nip05       string  `json:"nip05,omitempty"`
	About       string  `json:"about,omitempty"`
	Lud16       string  `json:"lud16,omitempty"`
	Lud06       string  `json:"lud06,omitempty"`
}
