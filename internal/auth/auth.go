// Package auth resolves the calling actor (role and id) of a request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/example/order-engine/internal/models"
)

var (
	ErrNoCredentials      = errors.New("credentials missing")
	ErrBadAuthScheme      = errors.New("authorization must start with Bearer")
	ErrInvalidSigningAlgo = errors.New("unexpected signing method")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidToken       = errors.New("invalid token")
)

// Claims carries the actor in a signed token. The subject is the actor id.
type Claims struct {
	Role models.ActorRole `json:"role"`
	jwtlib.RegisteredClaims
}

// Authenticator extracts actors from requests. With a secret it only trusts
// HS256 bearer tokens; without one it trusts X-Actor-Role and X-Actor-ID,
// which is meant for local development behind a trusted proxy.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Authenticator{secret: []byte(strings.TrimSpace(secret)), ttl: ttl, now: time.Now}
}

// TokensRequired reports whether headers are ignored in favour of tokens.
func (a *Authenticator) TokensRequired() bool { return len(a.secret) > 0 }

// Issue signs a token for actor.
func (a *Authenticator) Issue(actor models.Actor) (string, error) {
	if !actor.Role.Valid() || actor.ID == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, actor.Role)
	}
	if !a.TokensRequired() {
		return "", errors.New("auth: no signing secret configured")
	}
	now := a.now()
	claims := &Claims{
		Role: actor.Role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse verifies a token and returns its actor.
func (a *Authenticator) Parse(token string) (models.Actor, error) {
	parser := jwtlib.NewParser(
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithTimeFunc(a.now),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(t *jwtlib.Token) (any, error) {
		if t.Method != jwtlib.SigningMethodHS256 {
			return nil, ErrInvalidSigningAlgo
		}
		return a.secret, nil
	})
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !claims.Role.Valid() || claims.Subject == "" {
		return models.Actor{}, ErrInvalidRole
	}
	return models.Actor{Role: claims.Role, ID: claims.Subject}, nil
}

// Authenticate resolves the actor of r. Browsers cannot set headers on
// WebSocket upgrades, so the token may also come in the access_token query
// parameter.
func (a *Authenticator) Authenticate(r *http.Request) (models.Actor, error) {
	if !a.TokensRequired() {
		actor := models.Actor{
			Role: models.ActorRole(strings.ToLower(r.Header.Get("X-Actor-Role"))),
			ID:   r.Header.Get("X-Actor-ID"),
		}
		if actor.Role == "" && actor.ID == "" {
			return models.Actor{}, ErrNoCredentials
		}
		if !actor.Role.Valid() || actor.ID == "" {
			return models.Actor{}, ErrInvalidRole
		}
		return actor, nil
	}

	token := r.URL.Query().Get("access_token")
	if h := r.Header.Get("Authorization"); h != "" {
		if !strings.HasPrefix(h, "Bearer ") {
			return models.Actor{}, ErrBadAuthScheme
		}
		token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if token == "" {
		return models.Actor{}, ErrNoCredentials
	}
	return a.Parse(token)
}

type ctxKey struct{}

func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

func ActorFrom(ctx context.Context) (models.Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(models.Actor)
	return a, ok
}
