// Package registry holds the declarative endpoint table and runs the
// per-request pipeline: signature authentication, access-level gating,
// query and body validation, ownership, then the handler. Every stage
// converts its failure into a terminal response envelope; nothing
// escapes the dispatch boundary unconverted.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/evolutius/apix/pkg/access"
	"github.com/evolutius/apix/pkg/authn"
	"github.com/evolutius/apix/pkg/httpx"
	"github.com/evolutius/apix/pkg/session"
)

// Request is the verified, parsed request a handler (and an ownership
// evaluator) receives.
type Request struct {
	HTTP     *http.Request
	RawBody  []byte
	Body     map[string]any // parsed object when the endpoint requires a body
	Query    map[string]any // processed values for declared parameters
	Identity authn.Identity
	Session  *session.Claims // nil below Authenticated
}

// Param returns a chi path parameter.
func (r *Request) Param(name string) string {
	return chi.URLParam(r.HTTP, name)
}

// Response is a handler's success outcome. A zero Status means 200.
type Response struct {
	Status int
	Data   any
}

type Handler func(*Request) (*Response, error)

// QueryParam declares one query parameter: a validator over the raw
// string and a processor producing the typed value handlers see.
type QueryParam struct {
	Name     string
	Required bool
	Validate func(raw string) error
	Process  func(raw string) (any, error)
}

// Endpoint is the immutable descriptor registered at process start.
type Endpoint struct {
	Route    string
	Method   string
	MinLevel access.Level
	// Exempt skips signature authentication. Reserved for endpoints
	// that must be reachable before credentials exist, like login.
	Exempt       bool
	RequiresBody bool
	ValidateBody func(body map[string]any) error
	Query        []QueryParam
	// Owns is the per-endpoint ownership evaluator. Nil means the
	// ownership check is satisfied.
	Owns    func(*Request) bool
	Handler Handler
}

type endpointKey struct {
	route  string
	method string
}

// Registry dispatches requests to registered endpoints.
type Registry struct {
	auth      *authn.Authenticator
	levels    *access.Evaluator
	endpoints map[endpointKey]Endpoint
	sealed    bool
}

func New(auth *authn.Authenticator, levels *access.Evaluator) *Registry {
	return &Registry{
		auth:      auth,
		levels:    levels,
		endpoints: map[endpointKey]Endpoint{},
	}
}

// Register adds an endpoint. Registration is additive and
// order-independent; a (route, method) collision or registration after
// Router has been built is a configuration error.
func (g *Registry) Register(e Endpoint) error {
	if g.sealed {
		return fmt.Errorf("registry: register %s %s after router build", e.Method, e.Route)
	}
	if e.Handler == nil {
		return fmt.Errorf("registry: %s %s has no handler", e.Method, e.Route)
	}
	e.Method = strings.ToUpper(strings.TrimSpace(e.Method))
	key := endpointKey{route: e.Route, method: e.Method}
	if _, exists := g.endpoints[key]; exists {
		return fmt.Errorf("registry: duplicate endpoint %s %s", e.Method, e.Route)
	}
	g.endpoints[key] = e
	return nil
}

// MustRegister panics on a registration error; descriptor mistakes are
// startup-time configuration faults.
func (g *Registry) MustRegister(e Endpoint) {
	if err := g.Register(e); err != nil {
		panic(err)
	}
}

// Router builds the chi router over every registered endpoint and seals
// the registry.
func (g *Registry) Router() http.Handler {
	g.sealed = true
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, httpx.NotFound("no such endpoint"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, httpx.NotFound("no such endpoint"))
	})
	for key, e := range g.endpoints {
		r.MethodFunc(key.method, key.route, g.dispatch(e))
	}
	return r
}

func (g *Registry) dispatch(e Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				log.Printf("registry: panic in %s %s: %v", e.Method, e.Route, v)
				httpx.WriteError(w, httpx.Internal("internal server error"))
			}
		}()
		if herr := g.serve(w, r, e); herr != nil {
			httpx.WriteError(w, herr)
		}
	}
}

func (g *Registry) serve(w http.ResponseWriter, r *http.Request, e Endpoint) *httpx.Error {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return httpx.Invalid("unreadable request body")
	}
	req := &Request{HTTP: r, RawBody: raw}

	if !e.Exempt {
		identity, err := g.auth.Authenticate(r.Context(), r, raw)
		if err != nil {
			if err == authn.ErrUnauthorized {
				return httpx.Unauthorized(authn.ErrUnauthorized.Error())
			}
			log.Printf("registry: authenticator fault on %s %s: %v", e.Method, e.Route, err)
			return httpx.Internal("internal server error")
		}
		req.Identity = identity
	}

	level, claims := g.levels.Evaluate(r)
	if !level.Meets(e.MinLevel) {
		return httpx.Unauthorized("insufficient access level")
	}
	req.Session = claims

	if herr := processQuery(req, e.Query); herr != nil {
		return herr
	}
	if e.RequiresBody {
		if herr := processBody(req, e.ValidateBody); herr != nil {
			return herr
		}
	}

	if e.Owns != nil && !e.Owns(req) {
		return httpx.Forbidden("caller does not own this resource")
	}

	resp, err := e.Handler(req)
	if err != nil {
		if herr, ok := err.(*httpx.Error); ok {
			return herr
		}
		log.Printf("registry: handler fault on %s %s: %v", e.Method, e.Route, err)
		return httpx.Internal("internal server error")
	}
	status := http.StatusOK
	if resp != nil && resp.Status != 0 {
		status = resp.Status
	}
	var data any
	if resp != nil {
		data = resp.Data
	}
	httpx.WriteData(w, status, data)
	return nil
}

func processQuery(req *Request, params []QueryParam) *httpx.Error {
	values := req.HTTP.URL.Query()
	req.Query = make(map[string]any, len(params))
	for _, p := range params {
		if !values.Has(p.Name) {
			if p.Required {
				return httpx.Invalid(fmt.Sprintf("missing required query parameter %q", p.Name))
			}
			continue
		}
		raw := values.Get(p.Name)
		if p.Validate != nil {
			if err := p.Validate(raw); err != nil {
				return httpx.Invalid(fmt.Sprintf("invalid query parameter %q: %v", p.Name, err))
			}
		}
		if p.Process != nil {
			v, err := p.Process(raw)
			if err != nil {
				return httpx.Invalid(fmt.Sprintf("invalid query parameter %q: %v", p.Name, err))
			}
			req.Query[p.Name] = v
			continue
		}
		req.Query[p.Name] = raw
	}
	return nil
}

func processBody(req *Request, validate func(map[string]any) error) *httpx.Error {
	body, err := decodeObject(req.RawBody)
	if err != nil {
		return httpx.Invalid("request body must be a JSON object")
	}
	if validate != nil {
		if err := validate(body); err != nil {
			return httpx.Invalid(err.Error())
		}
	}
	req.Body = body
	return nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("empty body")
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		return nil, fmt.Errorf("trailing content after body")
	}
	return body, nil
}
