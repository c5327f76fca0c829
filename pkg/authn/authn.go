// Package authn verifies that an inbound request was produced by a
// holder of a shared secret, is fresh, and has never been seen before.
// Signature, freshness and replay failures are deliberately
// indistinguishable from the outside; the internal reason exists only
// for audit logging.
package authn

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/evolutius/apix/pkg/canonical"
	"github.com/evolutius/apix/pkg/sign"
)

// ErrUnauthorized is the single externally visible authentication
// failure. Every rejection path returns it so callers cannot probe
// which check failed.
var ErrUnauthorized = errors.New("invalid request credentials")

// DefaultFreshnessWindow is the maximum allowed skew between the signed
// timestamp and server time. It bounds nonce-record lifetime as well, so
// it must stay strictly shorter than any interval after which a client
// is expected to retry with fresh credentials.
const DefaultFreshnessWindow = 5 * time.Second

// MinFreshnessWindow is the floor for configured windows. The Date
// header carries whole seconds only, so a shorter window would reject
// requests of zero logical age.
const MinFreshnessWindow = time.Second

// Reason classifies a rejection for the audit log. Never sent to clients.
type Reason string

const (
	ReasonMissingHeaders Reason = "MISSING_HEADERS"
	ReasonMalformedNonce Reason = "MALFORMED_NONCE"
	ReasonUnknownKey     Reason = "UNKNOWN_KEY"
	ReasonBadSignature   Reason = "BAD_SIGNATURE"
	ReasonStaleTimestamp Reason = "STALE_TIMESTAMP"
	ReasonNonceReplay    Reason = "NONCE_REPLAY"
)

// CredentialSource resolves an API key identifier to its shared secret.
// A missing mapping is (false, nil), not an error.
type CredentialSource interface {
	SecretForKey(ctx context.Context, apiKeyID string) (string, bool, error)
}

// AuditLogger records rejected authentication attempts. Implementations
// must not fail the request path.
type AuditLogger interface {
	AuthRejected(ctx context.Context, apiKeyID, path string, reason Reason)
}

// Identity is the proven caller of an accepted request. It establishes
// possession of the app secret only; session-level access is evaluated
// separately.
type Identity struct {
	APIKeyID string
}

// Authenticator runs the verification state machine.
type Authenticator struct {
	creds  CredentialSource
	nonces *Ledger
	window time.Duration
	audit  AuditLogger
	now    func() time.Time
}

type Option func(*Authenticator)

// WithFreshnessWindow overrides DefaultFreshnessWindow. Values below
// MinFreshnessWindow are raised to it.
func WithFreshnessWindow(d time.Duration) Option {
	return func(a *Authenticator) {
		if d <= 0 {
			return
		}
		if d < MinFreshnessWindow {
			d = MinFreshnessWindow
		}
		a.window = d
	}
}

// WithAuditLogger wires rejection logging.
func WithAuditLogger(l AuditLogger) Option {
	return func(a *Authenticator) { a.audit = l }
}

func withClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

func New(creds CredentialSource, nonces *Ledger, opts ...Option) *Authenticator {
	a := &Authenticator{
		creds:  creds,
		nonces: nonces,
		window: DefaultFreshnessWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FreshnessWindow reports the configured window.
func (a *Authenticator) FreshnessWindow() time.Duration { return a.window }

// Authenticate verifies one request. body is the raw JSON payload as
// received (nil when absent). A nil error means the request is accepted
// and its nonce consumed; any verification failure returns
// ErrUnauthorized. Other errors indicate collaborator faults, not a
// verdict about the caller.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request, body []byte) (Identity, error) {
	keyID := strings.TrimSpace(r.Header.Get(sign.HeaderAPIKey))
	sig := strings.TrimSpace(r.Header.Get(sign.HeaderSignature))
	nonce := strings.TrimSpace(r.Header.Get(sign.HeaderNonce))
	date := strings.TrimSpace(r.Header.Get(sign.HeaderDate))
	if keyID == "" || sig == "" || nonce == "" || date == "" {
		return a.reject(ctx, keyID, r.URL.Path, ReasonMissingHeaders)
	}
	// The canonical message joins fields with a dot; an alphanumeric
	// nonce keeps the field boundaries unambiguous by construction.
	if !alphanumeric(nonce) {
		return a.reject(ctx, keyID, r.URL.Path, ReasonMalformedNonce)
	}

	secret, ok, err := a.creds.SecretForKey(ctx, keyID)
	if err != nil {
		return Identity{}, err
	}
	if !ok {
		return a.reject(ctx, keyID, r.URL.Path, ReasonUnknownKey)
	}

	ts, err := canonical.ParseHTTPDate(date)
	if err != nil {
		return a.reject(ctx, keyID, r.URL.Path, ReasonMissingHeaders)
	}
	msg, err := canonical.Message(r.URL.Path, r.Method, nonce, ts, body)
	if err != nil {
		// An unparseable body cannot have been signed.
		return a.reject(ctx, keyID, r.URL.Path, ReasonBadSignature)
	}
	if !sign.Equal(sign.Sign(secret, msg), sig) {
		return a.reject(ctx, keyID, r.URL.Path, ReasonBadSignature)
	}

	// The signed timestamp has whole-second resolution, so skew is
	// measured at the same granularity: a request of zero logical age
	// must never read as stale.
	now := a.now()
	skew := now.Truncate(time.Second).Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > a.window {
		return a.reject(ctx, keyID, r.URL.Path, ReasonStaleTimestamp)
	}

	// The record must outlive every instant at which this timestamp
	// would still pass the freshness check; the extra second covers the
	// header's truncation slack.
	fresh, err := a.nonces.Reserve(ctx, keyID, nonce, ts.Add(a.window+time.Second).Sub(now))
	if err != nil {
		return Identity{}, err
	}
	if !fresh {
		return a.reject(ctx, keyID, r.URL.Path, ReasonNonceReplay)
	}
	return Identity{APIKeyID: keyID}, nil
}

func alphanumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		ok := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !ok {
			return false
		}
	}
	return true
}

func (a *Authenticator) reject(ctx context.Context, keyID, path string, reason Reason) (Identity, error) {
	if a.audit != nil {
		a.audit.AuthRejected(ctx, keyID, path, reason)
	}
	return Identity{}, ErrUnauthorized
}
