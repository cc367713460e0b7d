package authn

import "crypto/rand"

// NewChallengeNonce returns the random 16-byte nonce the server sends as a
// plaintext event when a connection opens (§4.F connection lifecycle, step
// "Open"). Device-identity auth signs over this value as the "token".
func NewChallengeNonce() ([]byte, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}
