package session

// Session defines a public type used by goMFA APIs.
//
// Methods is the bitmask of authentication methods satisfied at login; the
// engine expands it back into the token AMR claim on refresh.
//
// Session instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Session struct {
	SessionID string
	UserID    string

	Status  uint8
	Methods uint8

	RefreshHash     [32]byte
	FingerprintHash [32]byte
	IPHash          [32]byte
	UserAgentHash   [32]byte

	CreatedAt int64
	ExpiresAt int64
}
