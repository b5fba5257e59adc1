// Package cookies implements the signed identity cookie: an HMAC-stamped
// opaque token binding a session record to the server's secret key.
package cookies

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// KeySize is the length of the server signing key in bytes.
const KeySize = 64

// Codec signs and verifies opaque payloads under a fixed key. The key is
// immutable after startup.
type Codec struct {
	key []byte
}

// NewCodec wraps the given signing key.
func NewCodec(key []byte) *Codec {
	k := make([]byte, len(key))
	copy(k, key)
	return &Codec{key: k}
}

// Sign produces "base64url(payload) + "." + base64url(mac)".
func (c *Codec) Sign(payload []byte) string {
	mac := c.mac(payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(mac)
}

// Verify checks a token and returns its payload. Malformed tokens, bad
// base64, and MAC mismatches are indistinguishable to the caller.
func (c *Codec) Verify(token string) ([]byte, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return nil, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, false
	}
	mac, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, false
	}
	if !hmac.Equal(mac, c.mac(payload)) {
		return nil, false
	}
	return payload, true
}

func (c *Codec) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, c.key)
	h.Write(payload)
	return h.Sum(nil)
}
