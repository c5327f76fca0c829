// Package access computes the coarse authorization tier of a verified
// request. It is independent of resource ownership, which endpoints
// layer on top as their own predicate.
package access

import (
	"net/http"

	"github.com/evolutius/apix/pkg/session"
)

// Level is the ordered access tier of a request. An endpoint is
// dispatched only when the computed level is at least its declared
// minimum.
type Level int

const (
	Public Level = iota
	Authenticated
)

func (l Level) String() string {
	switch l {
	case Authenticated:
		return "authenticated"
	default:
		return "public"
	}
}

// Meets reports whether l satisfies a required minimum.
func (l Level) Meets(min Level) bool { return l >= min }

// Evaluator resolves a request's level from its bearer token.
type Evaluator struct {
	sessions session.Verifier
}

func NewEvaluator(sessions session.Verifier) *Evaluator {
	return &Evaluator{sessions: sessions}
}

// Evaluate returns the request's level and, when Authenticated, the
// session claims. Absent, malformed, invalid or expired tokens all
// resolve to Public.
func (e *Evaluator) Evaluate(r *http.Request) (Level, *session.Claims) {
	token, ok := session.ParseBearer(r.Header.Get("Authorization"))
	if !ok {
		return Public, nil
	}
	claims, err := e.sessions.Verify(token)
	if err != nil {
		return Public, nil
	}
	return Authenticated, &claims
}
