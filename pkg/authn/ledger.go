package authn

import (
	"context"
	"time"

	"github.com/evolutius/apix/pkg/cache"
)

// Ledger tracks consumed nonces per API key on top of the shared cache.
// Reserve is the only write path, and it is atomic: two concurrent
// deliveries of the same nonce can never both win. Records expire with
// the cache TTL; no sweep is required.
type Ledger struct {
	store cache.Cache
}

func NewLedger(store cache.Cache) *Ledger {
	return &Ledger{store: store}
}

// Reserve consumes (apiKeyID, nonce) and reports whether this caller was
// first. ttl is the remaining freshness of the signed timestamp; a
// non-positive ttl still reserves for a minimal grace so the atomicity
// guarantee holds for requests accepted at the window's edge.
func (l *Ledger) Reserve(ctx context.Context, apiKeyID, nonce string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	return l.store.SetIfAbsent(ctx, "nonce:"+apiKeyID+":"+nonce, "1", ttl)
}

// Seen reports whether a nonce record currently exists, without
// consuming anything. Used by tests and diagnostics.
func (l *Ledger) Seen(ctx context.Context, apiKeyID, nonce string) (bool, error) {
	_, ok, err := l.store.Get(ctx, "nonce:"+apiKeyID+":"+nonce)
	return ok, err
}
