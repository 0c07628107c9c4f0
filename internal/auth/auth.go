package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var errMissingSecret = errors.New("auth secret is not configured")

// Claims mirrors the access token issued by the identity provider.
type Claims struct {
	Email        string       `json:"email,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

// UserMetadata carries profile hints set at sign-up.
type UserMetadata struct {
	FullName string `json:"full_name,omitempty"`
}

// Authenticator verifies bearer tokens and resolves the caller's profile.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	profiles ProfileStore
	now      func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) Option {
	return func(a *Authenticator) { a.issuer = strings.TrimSpace(issuer) }
}

// WithAudience requires aud to contain audience.
func WithAudience(audience string) Option {
	return func(a *Authenticator) { a.audience = strings.TrimSpace(audience) }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator builds an HS256 verifier backed by profiles.
func NewAuthenticator(secret string, profiles ProfileStore, opts ...Option) (*Authenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errMissingSecret
	}
	if profiles == nil {
		return nil, errors.New("auth: profile store is required")
	}
	a := &Authenticator{
		secret:   []byte(secret),
		profiles: profiles,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authenticate validates token and returns the session of its subject. The
// profile is created on first use; the role always comes from the profile.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Session, error) {
	claims, err := a.Parse(token)
	if err != nil {
		return Session{}, err
	}
	profile, err := a.profiles.EnsureProfile(ctx, Identity{
		UserID:   claims.Subject,
		Email:    claims.Email,
		FullName: claims.UserMetadata.FullName,
	})
	if err != nil {
		return Session{}, fmt.Errorf("ensure profile: %w", err)
	}
	return NewSession(profile), nil
}

// Parse verifies the signature and registered claims of token.
func (a *Authenticator) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthenticated
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
		jwt.WithLeeway(5 * time.Second),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	return claims, nil
}

// IssueToken signs a token the way the identity provider does. It backs the
// smoke binary and tests.
func (a *Authenticator) IssueToken(id Identity, ttl time.Duration) (string, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be greater than zero", ErrInvalidInput)
	}
	now := a.now().UTC()
	claims := Claims{
		Email:        id.Email,
		UserMetadata: UserMetadata{FullName: id.FullName},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
