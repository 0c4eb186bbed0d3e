package authz

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"garrison.org/internal/obs"
)

const issuer = "garrison"

// AppointmentClaim is the appointment slice of the session token.
type AppointmentClaim struct {
	ID          string `json:"id"`
	PositionKey string `json:"position,omitempty"`
	ScopeType   string `json:"scope_type,omitempty"`
	ScopeID     string `json:"scope_id,omitempty"`
}

// Claims are the JWT claims carried by a session token.
type Claims struct {
	Roles       []string          `json:"roles,omitempty"`
	Appointment *AppointmentClaim `json:"appointment,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies session bearer tokens. Service-issued tokens use
// HS256 with a shared secret; when a JWKS URL is configured, RS256 tokens
// minted by an upstream identity provider are accepted as well.
type Tokens struct {
	secret []byte
	issuer string
	jwks   keyfunc.Keyfunc
}

// TokenOption configures Tokens.
type TokenOption func(*Tokens) error

// WithJWKS enables verification of RS256 tokens against the identity
// provider's JWKS endpoint, refreshed in the background.
func WithJWKS(url string, refreshInterval time.Duration) TokenOption {
	return func(t *Tokens) error {
		url = strings.TrimSpace(url)
		if url == "" {
			return errors.New("jwks url is required")
		}
		storage, err := jwkset.NewStorageFromHTTP(url, jwkset.HTTPClientStorageOptions{
			NoErrorReturnFirstHTTPReq: true,
			RefreshInterval:           refreshInterval,
			RefreshErrorHandler: func(_ context.Context, err error) {
				obs.Warn("jwks refresh failed", map[string]any{"url": url, "error": err.Error()})
			},
		})
		if err != nil {
			return err
		}
		k, err := keyfunc.New(keyfunc.Options{Storage: storage})
		if err != nil {
			return err
		}
		t.jwks = k
		return nil
	}
}

// WithIssuer overrides the issuer claim expected and emitted.
func WithIssuer(iss string) TokenOption {
	return func(t *Tokens) error {
		if strings.TrimSpace(iss) != "" {
			t.issuer = strings.TrimSpace(iss)
		}
		return nil
	}
}

// NewTokens builds a token signer/verifier from the shared secret.
func NewTokens(secret string, opts ...TokenOption) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("token secret is not configured")
	}
	t := &Tokens{secret: []byte(secret), issuer: issuer}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Issue signs an HS256 session token for the user.
func (t *Tokens) Issue(userID string, roles []string, appointment *AppointmentClaim, ttl time.Duration) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("userID is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Roles:       NormalizeRoleKeys(roles),
		Appointment: appointment,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a bearer token, returning its claims. HS256
// tokens are checked against the shared secret; RS256 tokens against the
// JWKS keys when configured.
func (t *Tokens) Verify(ctx context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(5 * time.Second),
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		switch tok.Method.(type) {
		case *jwt.SigningMethodHMAC:
			return t.secret, nil
		case *jwt.SigningMethodRSA:
			if t.jwks == nil {
				return nil, ErrInvalidToken
			}
			return t.jwks.KeyfuncCtx(ctx)(tok)
		default:
			return nil, ErrInvalidToken
		}
	}, parserOpts...)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	// Service-issued tokens must carry our issuer; IdP tokens carry theirs
	// and are trusted via the key, not the issuer string.
	if _, isHMAC := parsed.Method.(*jwt.SigningMethodHMAC); isHMAC && claims.Issuer != t.issuer {
		return nil, ErrInvalidToken
	}
	claims.Roles = NormalizeRoleKeys(claims.Roles)
	return claims, nil
}
