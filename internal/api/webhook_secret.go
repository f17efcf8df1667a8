package api

import (
	"crypto/rand"
	"encoding/hex"
)

// newWebhookSecret mints a 32-byte random HMAC key, hex-encoded, for a
// freshly created webhook — crypto/rand is the only correct source here
// since this value is the shared secret the dispatcher signs every
// delivery with (§6's X-Uho-Signature).
func newWebhookSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
