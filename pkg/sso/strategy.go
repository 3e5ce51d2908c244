package sso

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

// Strategy implements the protocol-specific half of the SSO flow. Each
// protocol (SAML 2.0, OAuth2, OIDC) provides one implementation; the
// strategy is selected once at provider lookup time, so adding a protocol
// is a localized change.
type Strategy interface {
	// Type returns the protocol this strategy speaks
	Type() ProviderType

	// BuildAuthorization composes the authorization instruction the browser
	// acts on. redirectURL is the post-login return target (assertion
	// consumer URL for SAML, redirect_uri for OAuth2/OIDC).
	BuildAuthorization(provider *Provider, redirectURL string) (*LoginInstruction, error)

	// ExtractIdentity turns the callback payload into an asserted identity.
	// Implementations fail with ErrValidation when the payload shape does
	// not match the protocol, and with ErrUpstream when the provider
	// exchange fails or yields no verifiable identity.
	ExtractIdentity(ctx context.Context, provider *Provider, req *CallbackRequest) (*Identity, error)
}

// StrategyOptions configures the protocol strategies
type StrategyOptions struct {
	// EntityID identifies this service provider in SAML AuthnRequests
	EntityID string
	// ExchangeTimeout bounds outbound token exchange calls
	ExchangeTimeout time.Duration
	// HTTPClient is used for outbound provider calls; defaults to
	// http.DefaultClient
	HTTPClient *http.Client
}

// StrategySet holds one strategy per supported protocol
type StrategySet struct {
	byType map[ProviderType]Strategy
}

// NewStrategySet creates the closed set of protocol strategies
func NewStrategySet(opts StrategyOptions) *StrategySet {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.ExchangeTimeout <= 0 {
		opts.ExchangeTimeout = 10 * time.Second
	}

	strategies := []Strategy{
		newSAMLStrategy(opts),
		newOAuth2Strategy(opts),
		newOIDCStrategy(opts),
	}

	set := &StrategySet{byType: make(map[ProviderType]Strategy, len(strategies))}
	for _, s := range strategies {
		set.byType[s.Type()] = s
	}
	return set
}

// For returns the strategy for a provider type.
// Unknown types fail with ErrValidation rather than degrading silently.
func (s *StrategySet) For(t ProviderType) (Strategy, error) {
	strategy, ok := s.byType[t]
	if !ok {
		return nil, fmt.Errorf("unsupported provider type %q: %w", t, ErrValidation)
	}
	return strategy, nil
}

// randomHex returns n random bytes hex-encoded. Used for state, nonce, and
// SAML request ids; every login attempt gets fresh values.
func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
