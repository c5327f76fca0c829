// Package sign implements the client half of the request signing
// protocol: nonce generation, HMAC-SHA256 signatures over the canonical
// message, and the protected header set attached to outbound requests.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/evolutius/apix/pkg/canonical"
)

// Protected header names shared by signer and verifier.
const (
	HeaderAPIKey      = "X-Api-Key"
	HeaderSignature   = "X-Signature"
	HeaderNonce       = "X-Nonce"
	HeaderDate        = "Date"
	HeaderContentType = "Content-Type"
)

// DefaultNonceLength matches the protocol's 16-character nonce.
const DefaultNonceLength = 16

const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Nonce draws length characters uniformly from an alphanumeric alphabet.
// The source is non-cryptographic on purpose: uniqueness is probabilistic
// and the server independently rejects reuse and stale timestamps.
func Nonce(length int) string {
	if length <= 0 {
		length = DefaultNonceLength
	}
	b := make([]byte, length)
	for i := range b {
		b[i] = nonceAlphabet[rand.Intn(len(nonceAlphabet))]
	}
	return string(b)
}

// Sign computes the hex-encoded HMAC-SHA256 of the canonical message
// under the shared secret.
func Sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares a supplied hex signature against the expected one in
// constant time.
func Equal(expected, supplied string) bool {
	return hmac.Equal([]byte(expected), []byte(supplied))
}

// Headers is the protected header set derived for one request. Building
// it has no side effects; the caller attaches and sends.
type Headers struct {
	APIKeyID     string
	Signature    string
	Nonce        string
	Date         string
	SessionToken string
}

// Build derives the protected headers for a request. body is the raw
// JSON payload or nil. sessionToken is optional; when present it rides
// along as a bearer credential for the access-level check.
func Build(apiKeyID, secret, verb, path string, body []byte, sessionToken string) (Headers, error) {
	nonce := Nonce(DefaultNonceLength)
	date := canonical.HTTPDate(time.Now())
	ts, err := canonical.ParseHTTPDate(date)
	if err != nil {
		return Headers{}, err
	}
	msg, err := canonical.Message(path, verb, nonce, ts, body)
	if err != nil {
		return Headers{}, err
	}
	return Headers{
		APIKeyID:     apiKeyID,
		Signature:    Sign(secret, msg),
		Nonce:        nonce,
		Date:         date,
		SessionToken: sessionToken,
	}, nil
}

// Apply sets the protected headers on an outbound request.
func (h Headers) Apply(req *http.Request) {
	req.Header.Set(HeaderAPIKey, h.APIKeyID)
	req.Header.Set(HeaderSignature, h.Signature)
	req.Header.Set(HeaderNonce, h.Nonce)
	req.Header.Set(HeaderDate, h.Date)
	req.Header.Set(HeaderContentType, "application/json")
	if strings.TrimSpace(h.SessionToken) != "" {
		req.Header.Set("Authorization", "Bearer "+h.SessionToken)
	}
}
