// Package credential implements the signed session-credential handshake:
// canonical-content HMAC signing and negotiation of the short-lived session
// token plus shared secret that authenticate all further calls.
package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidSigningInput = errors.New("credential: invalid signing input")

// signingTimeLayout is the round-trip UTC timestamp format the service
// expects inside signed content (seven fractional digits, Z suffix).
const signingTimeLayout = "2006-01-02T15:04:05.0000000Z07:00"

// Signature is the output of signing one canonical content fragment.
type Signature struct {
	Algorithm string
	Value     string // base64 digest

	// Content holds the exact bytes the digest covers. They must travel to
	// the service verbatim: the signature is valid over these bytes only,
	// not over a re-serialization of the same logical content.
	Content []byte
}

// Cryptographer owns the keyed-hash primitive.
type Cryptographer interface {
	Algorithm() string
	Digest(key, content []byte) []byte
}

// HMACSHA256 is the protocol's default Cryptographer.
type HMACSHA256 struct{}

func (HMACSHA256) Algorithm() string { return "HMACSHA256" }

func (HMACSHA256) Digest(key, content []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(content)
	return mac.Sum(nil)
}

// Signer produces credential signatures over canonical app-id content.
type Signer struct {
	crypto Cryptographer
	now    func() time.Time
}

func NewSigner(crypto Cryptographer) *Signer {
	if crypto == nil {
		crypto = HMACSHA256{}
	}
	return &Signer{crypto: crypto, now: time.Now}
}

// Sign signs the canonical content for appID at the current instant.
func (s *Signer) Sign(appID uuid.UUID, sharedSecret string) (Signature, error) {
	return s.SignAt(appID, sharedSecret, s.now())
}

// SignAt signs the canonical content for appID at a fixed instant. The
// content fragment is byte-stable for fixed inputs, which keeps the
// signature independently re-verifiable.
func (s *Signer) SignAt(appID uuid.UUID, sharedSecret string, at time.Time) (Signature, error) {
	if appID == uuid.Nil {
		return Signature{}, fmt.Errorf("%w: missing app id", ErrInvalidSigningInput)
	}
	if sharedSecret == "" {
		return Signature{}, fmt.Errorf("%w: missing shared secret", ErrInvalidSigningInput)
	}
	content := fmt.Sprintf(
		"<content><app-id>%s</app-id><hmac>%s</hmac><signing-time>%s</signing-time></content>",
		appID, s.crypto.Algorithm(), at.UTC().Format(signingTimeLayout),
	)
	digest := s.crypto.Digest([]byte(sharedSecret), []byte(content))
	return Signature{
		Algorithm: s.crypto.Algorithm(),
		Value:     base64.StdEncoding.EncodeToString(digest),
		Content:   []byte(content),
	}, nil
}
