package platform

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body keyed by
// the account's verify secret.
const SignatureHeader = "X-Signature-256"

const signaturePrefix = "sha256="

// ParseEnvelope decodes a raw webhook body. Unknown fields are
// tolerated since the provider adds them without notice; structural
// failures return ErrMalformedEnvelope.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(env.Entries) == 0 {
		return Envelope{}, fmt.Errorf("%w: no entries", ErrMalformedEnvelope)
	}
	for i, entry := range env.Entries {
		if strings.TrimSpace(entry.RoutingID) == "" {
			return Envelope{}, fmt.Errorf("%w: entry %d missing routing id", ErrMalformedEnvelope, i)
		}
	}
	return env, nil
}

// VerifySignature checks the raw body against the header value using
// the account secret. An empty secret disables verification for that
// account.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return nil
	}
	header = strings.TrimPrefix(header, signaturePrefix)
	want, err := hex.DecodeString(header)
	if err != nil || len(want) == 0 {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the header value for a body, used by tests and by the
// provider simulator.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
