package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/evolutius/apix/pkg/access"
	"github.com/evolutius/apix/pkg/authn"
	"github.com/evolutius/apix/pkg/cache"
	"github.com/evolutius/apix/pkg/httpx"
	"github.com/evolutius/apix/pkg/registry"
	"github.com/evolutius/apix/pkg/session"
	"github.com/evolutius/apix/services/api/internal/store"
)

var cacheKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func main() {
	pool := store.MustConnect()
	st := store.New(pool)

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	kv := cache.NewRedis(redis.NewClient(&redis.Options{Addr: redisAddr}))

	sessionSecret := os.Getenv("SESSION_SECRET")
	if sessionSecret == "" {
		panic("SESSION_SECRET is required")
	}
	sessionTTL := session.DefaultTokenTTL
	if v := os.Getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			panic(fmt.Sprintf("invalid SESSION_TTL: %v", err))
		}
		sessionTTL = d
	}
	sessions := session.New(sessionSecret, sessionTTL)

	authOpts := []authn.Option{authn.WithAuditLogger(st)}
	if v := os.Getenv("AUTH_FRESHNESS_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			panic(fmt.Sprintf("invalid AUTH_FRESHNESS_WINDOW: %v", err))
		}
		authOpts = append(authOpts, authn.WithFreshnessWindow(d))
	}
	auth := authn.New(st, authn.NewLedger(kv), authOpts...)

	reg := registry.New(auth, access.NewEvaluator(sessions))
	registerEndpoints(reg, st, kv, sessions)

	port := os.Getenv("SERVICE_PORT")
	if port == "" {
		port = "8080"
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Mount("/", reg.Router())

	log.Printf("api listening on :%s (freshness window %s)", port, auth.FreshnessWindow())
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatal(err)
	}
}

func registerEndpoints(reg *registry.Registry, st *store.Store, kv cache.Cache, sessions *session.Service) {
	keyParam := registry.QueryParam{
		Name: "key", Required: true,
		Validate: func(raw string) error {
			if !cacheKeyPattern.MatchString(raw) {
				return fmt.Errorf("must match %s", cacheKeyPattern)
			}
			return nil
		},
	}

	reg.MustRegister(registry.Endpoint{
		Route: "/status", Method: "GET",
		Handler: func(*registry.Request) (*registry.Response, error) {
			return &registry.Response{Data: map[string]any{"status": "ok"}}, nil
		},
	})

	// Login must be reachable before any session exists, so it is the
	// one endpoint exempt from request signing.
	reg.MustRegister(registry.Endpoint{
		Route: "/auth/login", Method: "POST", Exempt: true, RequiresBody: true,
		ValidateBody: func(body map[string]any) error {
			if v, _ := body["username"].(string); v == "" {
				return fmt.Errorf("field \"username\" must be a non-empty string")
			}
			if v, _ := body["password"].(string); v == "" {
				return fmt.Errorf("field \"password\" must be a non-empty string")
			}
			return nil
		},
		Handler: func(r *registry.Request) (*registry.Response, error) {
			username := r.Body["username"].(string)
			password := r.Body["password"].(string)
			u, ok, err := st.UserByCredentials(r.HTTP.Context(), username, store.HashSecret(password))
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, httpx.Unauthorized("unknown user or wrong password")
			}
			token, err := sessions.Issue(session.Claims{Subject: u.UserID})
			if err != nil {
				return nil, err
			}
			return &registry.Response{Data: map[string]any{"token": token, "user": u}}, nil
		},
	})

	reg.MustRegister(registry.Endpoint{
		Route: "/users", Method: "POST", Exempt: true, RequiresBody: true,
		ValidateBody: func(body map[string]any) error {
			if v, _ := body["username"].(string); v == "" {
				return fmt.Errorf("field \"username\" must be a non-empty string")
			}
			if v, _ := body["password"].(string); len(v) < 8 {
				return fmt.Errorf("field \"password\" must be at least 8 characters")
			}
			return nil
		},
		Handler: func(r *registry.Request) (*registry.Response, error) {
			u := store.User{
				UserID:    "usr_" + uuid.NewString(),
				Username:  r.Body["username"].(string),
				CreatedAt: time.Now(),
			}
			if err := st.CreateUser(r.HTTP.Context(), u, store.HashSecret(r.Body["password"].(string))); err != nil {
				return nil, err
			}
			return &registry.Response{Status: 201, Data: map[string]any{"user": u}}, nil
		},
	})

	reg.MustRegister(registry.Endpoint{
		Route: "/cache/add", Method: "PUT", MinLevel: access.Authenticated, RequiresBody: true,
		ValidateBody: func(body map[string]any) error {
			key, _ := body["key"].(string)
			if key == "" || !cacheKeyPattern.MatchString(key) {
				return fmt.Errorf("field \"key\" must be a non-empty string matching %s", cacheKeyPattern)
			}
			if _, ok := body["value"]; !ok {
				return fmt.Errorf("field \"value\" is required")
			}
			return nil
		},
		Handler: func(r *registry.Request) (*registry.Response, error) {
			key := r.Body["key"].(string)
			raw, err := json.Marshal(r.Body["value"])
			if err != nil {
				return nil, err
			}
			ctx := r.HTTP.Context()
			if err := kv.Set(ctx, "app:"+key, string(raw), 0); err != nil {
				return nil, err
			}
			if err := kv.Set(ctx, "owner:"+key, r.Session.Subject, 0); err != nil {
				return nil, err
			}
			return &registry.Response{Data: map[string]any{
				"success": true,
				"message": fmt.Sprintf("Set value for key '%s'", key),
			}}, nil
		},
	})

	reg.MustRegister(registry.Endpoint{
		Route: "/cache/get", Method: "GET", MinLevel: access.Authenticated,
		Query: []registry.QueryParam{keyParam},
		Handler: func(r *registry.Request) (*registry.Response, error) {
			key := r.Query["key"].(string)
			v, ok, err := kv.Get(r.HTTP.Context(), "app:"+key)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, httpx.NotFound(fmt.Sprintf("no value for key '%s'", key))
			}
			return &registry.Response{Data: map[string]any{"key": key, "value": json.RawMessage(v)}}, nil
		},
	})

	// Removal mutates a specific resource, so it carries the ownership
	// evaluator: only the session that set a key may remove it.
	reg.MustRegister(registry.Endpoint{
		Route: "/cache/remove", Method: "DELETE", MinLevel: access.Authenticated,
		Query: []registry.QueryParam{keyParam},
		Owns: func(r *registry.Request) bool {
			key, _ := r.Query["key"].(string)
			owner, ok, err := kv.Get(r.HTTP.Context(), "owner:"+key)
			if err != nil || !ok {
				// Unknown keys fall through to the handler's 404.
				return true
			}
			return r.Session != nil && r.Session.Subject == owner
		},
		Handler: func(r *registry.Request) (*registry.Response, error) {
			key := r.Query["key"].(string)
			ctx := r.HTTP.Context()
			_, ok, err := kv.Get(ctx, "app:"+key)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, httpx.NotFound(fmt.Sprintf("no value for key '%s'", key))
			}
			if err := kv.Delete(ctx, "app:"+key); err != nil {
				return nil, err
			}
			if err := kv.Delete(ctx, "owner:"+key); err != nil {
				return nil, err
			}
			return &registry.Response{Data: map[string]any{
				"success": true,
				"message": fmt.Sprintf("Removed value for key '%s'", key),
			}}, nil
		},
	})
}
