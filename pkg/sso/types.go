package sso

import (
	"time"

	"github.com/dwellos/ssobridge/pkg/auth"
)

// ProviderType represents the SSO protocol a provider speaks
type ProviderType string

const (
	ProviderTypeSAML   ProviderType = "SAML"
	ProviderTypeOAuth2 ProviderType = "OAUTH2"
	ProviderTypeOIDC   ProviderType = "OIDC"
)

// Valid reports whether the provider type is one of the known protocols
func (t ProviderType) Valid() bool {
	switch t {
	case ProviderTypeSAML, ProviderTypeOAuth2, ProviderTypeOIDC:
		return true
	}
	return false
}

// Provider represents an SSO provider configuration keyed by organizational
// email domain. At most one active provider exists per domain; providers are
// deactivated rather than deleted so already-provisioned users keep their
// link.
type Provider struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Type   ProviderType `json:"type"`
	Domain string       `json:"domain"`
	SSOURL string       `json:"ssoUrl"`

	// OAuth2/OIDC credentials. The secret never leaves the service.
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"-"`

	// TokenURL and UserInfoURL complete the OAuth2 code exchange; IssuerURL
	// enables OIDC discovery and ID-token verification. Callbacks for
	// providers missing these fail explicitly rather than fabricating an
	// identity.
	TokenURL    string `json:"tokenUrl,omitempty"`
	UserInfoURL string `json:"userInfoUrl,omitempty"`
	IssuerURL   string `json:"issuerUrl,omitempty"`

	// Certificate is the IdP signing certificate (PEM). When present, SAML
	// assertions are signature-checked; when absent they are accepted
	// unverified.
	Certificate string `json:"-"`

	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProviderSummary is a provider plus its linked-user count, for admin listings
type ProviderSummary struct {
	Provider
	LinkedUsers int `json:"linkedUsers"`
}

// Identity is the identity asserted by a provider after a callback
type Identity struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// LoginInstruction tells the browser how to reach the identity provider.
// Exactly one protocol-specific portion is populated depending on the
// provider type.
type LoginInstruction struct {
	ProviderID   string       `json:"providerId"`
	ProviderName string       `json:"providerName"`
	Type         ProviderType `json:"type"`
	SSOURL       string       `json:"ssoUrl"`

	// AuthorizationURL is the fully composed redirect target
	// (authorization URL for OAuth2/OIDC, SSO URL with the encoded
	// AuthnRequest for SAML).
	AuthorizationURL string `json:"authorizationUrl,omitempty"`

	// AuthnRequest is the raw SAML AuthnRequest XML (SAML only).
	AuthnRequest string `json:"authnRequest,omitempty"`

	// State is the CSRF binding token the caller must hold across the
	// redirect round-trip (OAuth2/OIDC; SAML RelayState).
	State string `json:"state,omitempty"`

	// Nonce binds the eventual ID token to this login attempt (OIDC only).
	Nonce string `json:"nonce,omitempty"`
}

// CallbackRequest is the protocol-specific response payload posted back
// after the identity provider round-trip
type CallbackRequest struct {
	ProviderID   string `json:"providerId"`
	Code         string `json:"code,omitempty"`
	State        string `json:"state,omitempty"`
	SAMLResponse string `json:"samlResponse,omitempty"`
	RedirectURL  string `json:"redirectUrl,omitempty"`
}

// LoginResult is a provisioned user plus its freshly issued session token
type LoginResult struct {
	User  *auth.User `json:"user"`
	Token string     `json:"token"`

	// Provisioned reports whether this login created the user record.
	Provisioned bool `json:"-"`
}
