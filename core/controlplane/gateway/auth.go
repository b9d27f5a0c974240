package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nodeflow/nodeflow/core/infra/config"
	"github.com/nodeflow/nodeflow/core/infra/logging"
	"github.com/nodeflow/nodeflow/core/users"
)

// ErrInvalidToken is returned by providers that reject a token.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated caller.
type Identity struct {
	UserID string     `json:"id"`
	Email  string     `json:"email"`
	Role   users.Role `json:"role"`
}

func (i *Identity) isAdmin() bool {
	return i != nil && i.Role == users.RoleAdmin
}

// AuthProvider resolves a bearer token to an identity.
type AuthProvider interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

type identityKey struct{}

func identityFromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityKey{}).(*Identity); ok {
		return id
	}
	return nil
}

func identityFromRequest(r *http.Request) *Identity {
	if r == nil {
		return nil
	}
	return identityFromContext(r.Context())
}

type authMode int

const (
	authOptional authMode = iota
	authRequired
	authAdmin
)

// withAuth resolves the caller for a route. Optional routes let anonymous
// callers through unless the gateway requires auth everywhere.
func (s *server) withAuth(mode authMode, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if mode == authOptional && !s.requireAuth {
				next(w, r)
				return
			}
			writeError(w, http.StatusUnauthorized, "No token provided")
			return
		}
		if s.auth == nil {
			if mode == authOptional && !s.requireAuth {
				next(w, r)
				return
			}
			logging.Error("api-gateway", "auth provider not configured")
			writeError(w, http.StatusInternalServerError, "Auth failed")
			return
		}

		ident, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			logging.Error("api-gateway", "authenticate", "error", err)
			writeError(w, http.StatusInternalServerError, "Auth failed")
			return
		}
		if ident == nil || ident.UserID == "" {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		role, err := s.lookupRole(r.Context(), ident.UserID)
		if err != nil {
			logging.Error("api-gateway", "profile role lookup", "user_id", ident.UserID, "error", err)
			writeError(w, http.StatusInternalServerError, "Auth failed")
			return
		}
		ident.Role = role

		if mode == authAdmin && !ident.isAdmin() {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, ident)))
	}
}

// lookupRole reads the caller's role from their profile; no profile means
// a plain user.
func (s *server) lookupRole(ctx context.Context, userID string) (users.Role, error) {
	if s.profiles == nil {
		return users.RoleUser, nil
	}
	p, err := s.profiles.Get(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return users.RoleUser, nil
	}
	if err != nil {
		return "", err
	}
	if p.Role == "" {
		return users.RoleUser, nil
	}
	return p.Role, nil
}

// bearerToken returns the second field of the Authorization header.
// Websocket upgrades may pass access_token in the query instead.
func bearerToken(r *http.Request) string {
	if fields := strings.Fields(r.Header.Get("Authorization")); len(fields) >= 2 {
		return fields[1]
	}
	if websocket.IsWebSocketUpgrade(r) {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

// SupabaseAuth validates tokens against a GoTrue user endpoint.
type SupabaseAuth struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewSupabaseAuth(baseURL, apiKey string) *SupabaseAuth {
	return &SupabaseAuth{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *SupabaseAuth) Authenticate(ctx context.Context, token string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if a.apiKey != "" {
		req.Header.Set("apikey", a.apiKey)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidToken
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("auth status %d", resp.StatusCode)
	}
	var user struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode auth user: %w", err)
	}
	if user.ID == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: user.ID, Email: user.Email}, nil
}

// TokenAuth maps static tokens to users. It is meant for local development
// and tests.
type TokenAuth struct {
	tokens map[string]Identity
}

type tokenEntry struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// NewTokenAuth parses a JSON array of {token, user_id, email}.
func NewTokenAuth(raw string) (*TokenAuth, error) {
	var entries []tokenEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("parse api tokens: %w", err)
	}
	ta := &TokenAuth{tokens: make(map[string]Identity, len(entries))}
	for i, e := range entries {
		token := strings.TrimSpace(e.Token)
		if token == "" || strings.TrimSpace(e.UserID) == "" {
			return nil, fmt.Errorf("api token %d: token and user_id required", i)
		}
		ta.tokens[token] = Identity{UserID: strings.TrimSpace(e.UserID), Email: e.Email}
	}
	return ta, nil
}

func (a *TokenAuth) Authenticate(_ context.Context, token string) (*Identity, error) {
	ident, ok := a.tokens[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	return &ident, nil
}

// chainAuth tries each provider in order until one accepts the token.
type chainAuth []AuthProvider

func (c chainAuth) Authenticate(ctx context.Context, token string) (*Identity, error) {
	var lastErr error = ErrInvalidToken
	for _, p := range c {
		ident, err := p.Authenticate(ctx, token)
		if err == nil {
			return ident, nil
		}
		lastErr = err
		if !errors.Is(err, ErrInvalidToken) {
			return nil, err
		}
	}
	return nil, lastErr
}

func newAuthProvider(cfg *config.Config) (AuthProvider, error) {
	var chain chainAuth
	if strings.TrimSpace(cfg.APITokens) != "" {
		ta, err := NewTokenAuth(cfg.APITokens)
		if err != nil {
			return nil, err
		}
		chain = append(chain, ta)
	}
	if cfg.SupabaseURL != "" {
		chain = append(chain, NewSupabaseAuth(cfg.SupabaseURL, cfg.SupabaseKey))
	}
	switch len(chain) {
	case 0:
		logging.Info("api-gateway", "no auth provider configured; protected routes will fail")
		return nil, nil
	case 1:
		return chain[0], nil
	default:
		return chain, nil
	}
}
