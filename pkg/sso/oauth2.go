package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// oauth2Strategy implements plain OAuth2 authorization-code login
type oauth2Strategy struct {
	httpClient      *http.Client
	exchangeTimeout time.Duration
}

func newOAuth2Strategy(opts StrategyOptions) *oauth2Strategy {
	return &oauth2Strategy{
		httpClient:      opts.HTTPClient,
		exchangeTimeout: opts.ExchangeTimeout,
	}
}

// Type returns the provider type
func (s *oauth2Strategy) Type() ProviderType {
	return ProviderTypeOAuth2
}

func (s *oauth2Strategy) oauth2Config(provider *Provider, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     provider.ClientID,
		ClientSecret: provider.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  provider.SSOURL,
			TokenURL: provider.TokenURL,
		},
		RedirectURL: redirectURL,
	}
}

// BuildAuthorization composes the authorization URL with a fresh state token:
// ssoUrl?client_id=...&redirect_uri=...&response_type=code&state=<64 hex chars>
func (s *oauth2Strategy) BuildAuthorization(provider *Provider, redirectURL string) (*LoginInstruction, error) {
	if provider.ClientID == "" {
		return nil, fmt.Errorf("provider has no client_id: %w", ErrValidation)
	}

	state, err := randomHex(32)
	if err != nil {
		return nil, err
	}

	authURL := s.oauth2Config(provider, redirectURL).AuthCodeURL(state)

	return &LoginInstruction{
		ProviderID:       provider.ID,
		ProviderName:     provider.Name,
		Type:             ProviderTypeOAuth2,
		SSOURL:           provider.SSOURL,
		AuthorizationURL: authURL,
		State:            state,
	}, nil
}

// ExtractIdentity exchanges the authorization code for tokens and fetches
// the user info document. Providers without a configured token or userinfo
// endpoint fail explicitly; a failed exchange fails the login rather than
// falling back to a fabricated identity.
func (s *oauth2Strategy) ExtractIdentity(ctx context.Context, provider *Provider, req *CallbackRequest) (*Identity, error) {
	if req.Code == "" {
		return nil, fmt.Errorf("authorization code is required for OAuth2 providers: %w", ErrValidation)
	}
	if provider.TokenURL == "" || provider.UserInfoURL == "" {
		return nil, fmt.Errorf("provider has no token exchange endpoints configured: %w", ErrUpstream)
	}

	ctx, cancel := context.WithTimeout(ctx, s.exchangeTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)

	cfg := s.oauth2Config(provider, req.RedirectURL)
	token, err := cfg.Exchange(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %v: %w", err, ErrUpstream)
	}

	client := cfg.Client(ctx, token)
	resp, err := client.Get(provider.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %v: %w", err, ErrUpstream)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("user info request returned %d: %s: %w", resp.StatusCode, string(body), ErrUpstream)
	}

	var userInfo map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("decode user info: %v: %w", err, ErrUpstream)
	}

	identity := identityFromClaims(userInfo)
	if identity.Email == "" {
		return nil, fmt.Errorf("user info carries no email: %w", ErrUpstream)
	}

	return identity, nil
}

// identityFromClaims maps the common claim spellings onto an Identity
func identityFromClaims(claims map[string]interface{}) *Identity {
	return &Identity{
		Email:     firstStringClaim(claims, "email"),
		FirstName: firstStringClaim(claims, "given_name", "first_name", "firstName"),
		LastName:  firstStringClaim(claims, "family_name", "last_name", "lastName"),
	}
}

func firstStringClaim(claims map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if val, ok := claims[key]; ok {
			if str, ok := val.(string); ok && str != "" {
				return str
			}
		}
	}
	return ""
}
