package sso

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// oidcScopes is the scope set requested on every OIDC login
var oidcScopes = []string{oidc.ScopeOpenID, "email", "profile"}

// oidcStrategy implements OpenID Connect login with ID-token verification
type oidcStrategy struct {
	httpClient      *http.Client
	exchangeTimeout time.Duration
}

func newOIDCStrategy(opts StrategyOptions) *oidcStrategy {
	return &oidcStrategy{
		httpClient:      opts.HTTPClient,
		exchangeTimeout: opts.ExchangeTimeout,
	}
}

// Type returns the provider type
func (s *oidcStrategy) Type() ProviderType {
	return ProviderTypeOIDC
}

// BuildAuthorization composes the authorization URL like OAuth2, requesting
// the openid/email/profile scopes and binding a fresh nonce alongside the
// state token. Initiation never calls out to the provider; discovery happens
// at callback time.
func (s *oidcStrategy) BuildAuthorization(provider *Provider, redirectURL string) (*LoginInstruction, error) {
	if provider.ClientID == "" {
		return nil, fmt.Errorf("provider has no client_id: %w", ErrValidation)
	}

	state, err := randomHex(32)
	if err != nil {
		return nil, err
	}
	nonce, err := randomHex(32)
	if err != nil {
		return nil, err
	}

	cfg := &oauth2.Config{
		ClientID:    provider.ClientID,
		Endpoint:    oauth2.Endpoint{AuthURL: provider.SSOURL},
		RedirectURL: redirectURL,
		Scopes:      oidcScopes,
	}
	authURL := cfg.AuthCodeURL(state, oidc.Nonce(nonce))

	return &LoginInstruction{
		ProviderID:       provider.ID,
		ProviderName:     provider.Name,
		Type:             ProviderTypeOIDC,
		SSOURL:           provider.SSOURL,
		AuthorizationURL: authURL,
		State:            state,
		Nonce:            nonce,
	}, nil
}

// ExtractIdentity exchanges the authorization code through the discovered
// token endpoint and verifies the returned ID token before trusting its
// claims. Providers without an issuer URL cannot complete the exchange and
// fail explicitly.
func (s *oidcStrategy) ExtractIdentity(ctx context.Context, provider *Provider, req *CallbackRequest) (*Identity, error) {
	if req.Code == "" {
		return nil, fmt.Errorf("authorization code is required for OIDC providers: %w", ErrValidation)
	}
	if provider.IssuerURL == "" {
		return nil, fmt.Errorf("provider has no issuer URL configured for discovery: %w", ErrUpstream)
	}

	ctx, cancel := context.WithTimeout(ctx, s.exchangeTimeout)
	defer cancel()
	ctx = oidc.ClientContext(ctx, s.httpClient)

	idp, err := oidc.NewProvider(ctx, provider.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover OIDC provider: %v: %w", err, ErrUpstream)
	}

	cfg := &oauth2.Config{
		ClientID:     provider.ClientID,
		ClientSecret: provider.ClientSecret,
		Endpoint:     idp.Endpoint(),
		RedirectURL:  req.RedirectURL,
		Scopes:       oidcScopes,
	}

	token, err := cfg.Exchange(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %v: %w", err, ErrUpstream)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("token response carries no id_token: %w", ErrUpstream)
	}

	verifier := idp.Verifier(&oidc.Config{ClientID: provider.ClientID})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify ID token: %v: %w", err, ErrUpstream)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse ID token claims: %v: %w", err, ErrUpstream)
	}

	identity := identityFromClaims(claims)
	if identity.Email == "" {
		return nil, fmt.Errorf("ID token carries no email: %w", ErrUpstream)
	}

	return identity, nil
}
