package signer

// Signer signs repository metadata.
type Signer interface {
	// SignDetached creates an armored detached signature for data.
	SignDetached(data []byte) ([]byte, error)

	// PublicKey returns the signing key's public half in armored format.
	PublicKey() ([]byte, error)
}
