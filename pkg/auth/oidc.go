// Package auth verifies inbound bearer tokens against the external identity
// provider (§1: the identity provider itself is out of scope; verifying its
// tokens is not). Grounded on the manifold example's internal/auth/oidc.go,
// trimmed to verification only — this gateway never originates a
// login/redirect flow, it only checks tokens minted elsewhere.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/tarsync/memoryplane/pkg/config"
)

// ErrUnauthenticated is returned when a request carries no valid bearer
// token (§7 Unauthenticated kind).
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims is the subset of the verified ID token claims the gateway needs.
type Claims struct {
	UserID string `json:"sub"`
}

// Verifier verifies bearer tokens using the OIDC provider's published keys.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewVerifier discovers the OIDC provider's configuration and builds a
// verifier bound to the configured audience.
func NewVerifier(ctx context.Context, cfg *config.AuthConfig) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover oidc provider: %w", err)
	}

	oidcCfg := &oidc.Config{
		SkipClientIDCheck: cfg.Audience == "",
		ClientID:          cfg.Audience,
		Now:               time.Now,
	}

	return &Verifier{verifier: provider.Verifier(oidcCfg)}, nil
}

// VerifyHeader extracts and verifies the bearer token from an
// "Authorization: Bearer <token>" header value, returning the caller's
// stable userId (§1, §4.1 step 1).
func (v *Verifier) VerifyHeader(ctx context.Context, authHeader string) (*Claims, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return nil, ErrUnauthenticated
	}
	raw := strings.TrimPrefix(authHeader, prefix)
	if raw == "" {
		return nil, ErrUnauthenticated
	}

	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: malformed claims: %v", ErrUnauthenticated, err)
	}
	if claims.UserID == "" {
		return nil, ErrUnauthenticated
	}
	return &claims, nil
}
