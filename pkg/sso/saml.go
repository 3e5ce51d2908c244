package sso

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"
)

// samlStrategy implements SAML 2.0 login initiation and assertion processing
type samlStrategy struct {
	entityID string
}

func newSAMLStrategy(opts StrategyOptions) *samlStrategy {
	return &samlStrategy{entityID: opts.EntityID}
}

// Type returns the provider type
func (s *samlStrategy) Type() ProviderType {
	return ProviderTypeSAML
}

// serviceProvider builds a gosaml2 service provider for one request cycle.
// When the provider record carries no IdP certificate, assertions are
// accepted without signature validation.
func (s *samlStrategy) serviceProvider(provider *Provider, acsURL string) (*saml2.SAMLServiceProvider, error) {
	certStore := &dsig.MemoryX509CertificateStore{}
	skipValidation := true

	if provider.Certificate != "" {
		block, _ := pem.Decode([]byte(provider.Certificate))
		if block == nil {
			return nil, fmt.Errorf("decode provider certificate PEM: %w", ErrValidation)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse provider certificate: %w", ErrValidation)
		}
		certStore.Roots = []*x509.Certificate{cert}
		skipValidation = false
	}

	return &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      provider.SSOURL,
		IdentityProviderIssuer:      provider.SSOURL,
		ServiceProviderIssuer:       s.entityID,
		AssertionConsumerServiceURL: acsURL,
		AudienceURI:                 s.entityID,
		IDPCertificateStore:         certStore,
		SkipSignatureValidation:     skipValidation,
	}, nil
}

// BuildAuthorization builds an AuthnRequest with a fresh random request id
// and the current issue instant, targeting the provider's SSO endpoint as
// Destination and the redirect target as AssertionConsumerServiceURL.
func (s *samlStrategy) BuildAuthorization(provider *Provider, redirectURL string) (*LoginInstruction, error) {
	sp, err := s.serviceProvider(provider, redirectURL)
	if err != nil {
		return nil, err
	}

	authnRequest, err := sp.BuildAuthRequest()
	if err != nil {
		return nil, fmt.Errorf("build AuthnRequest: %w", err)
	}

	relayState, err := randomHex(32)
	if err != nil {
		return nil, err
	}

	authURL, err := sp.BuildAuthURL(relayState)
	if err != nil {
		return nil, fmt.Errorf("build SAML auth URL: %w", err)
	}

	return &LoginInstruction{
		ProviderID:       provider.ID,
		ProviderName:     provider.Name,
		Type:             ProviderTypeSAML,
		SSOURL:           provider.SSOURL,
		AuthorizationURL: authURL,
		AuthnRequest:     authnRequest,
		State:            relayState,
	}, nil
}

// ExtractIdentity processes a base64-encoded SAMLResponse and extracts the
// asserted email and name attributes. A response that yields no email fails
// with ErrUpstream; identities are never fabricated.
func (s *samlStrategy) ExtractIdentity(ctx context.Context, provider *Provider, req *CallbackRequest) (*Identity, error) {
	if req.SAMLResponse == "" {
		return nil, fmt.Errorf("samlResponse is required for SAML providers: %w", ErrValidation)
	}

	acsURL := req.RedirectURL
	if acsURL == "" {
		acsURL = provider.SSOURL
	}
	sp, err := s.serviceProvider(provider, acsURL)
	if err != nil {
		return nil, err
	}

	assertionInfo, err := sp.RetrieveAssertionInfo(req.SAMLResponse)
	if err != nil {
		return nil, fmt.Errorf("process SAML assertion: %v: %w", err, ErrUpstream)
	}

	if assertionInfo.WarningInfo != nil && assertionInfo.WarningInfo.InvalidTime {
		return nil, fmt.Errorf("SAML assertion outside its validity window: %w", ErrUpstream)
	}

	identity := &Identity{}
	for _, attr := range assertionInfo.Values {
		if len(attr.Values) == 0 {
			continue
		}
		value := attr.Values[0].Value

		switch normalizeAttributeName(attr.Name) {
		case "email", "mail", "emailaddress":
			identity.Email = value
		case "firstname", "givenname":
			identity.FirstName = value
		case "lastname", "surname", "sn":
			identity.LastName = value
		}
	}

	// Fall back to any attribute value carrying an email shape, then to the
	// NameID, since IdPs disagree on attribute naming.
	if identity.Email == "" {
		for _, attr := range assertionInfo.Values {
			for _, v := range attr.Values {
				if strings.Contains(v.Value, "@") {
					identity.Email = v.Value
					break
				}
			}
			if identity.Email != "" {
				break
			}
		}
	}
	if identity.Email == "" && strings.Contains(assertionInfo.NameID, "@") {
		identity.Email = assertionInfo.NameID
	}

	if identity.Email == "" {
		return nil, fmt.Errorf("SAML assertion carries no email: %w", ErrUpstream)
	}

	return identity, nil
}

// normalizeAttributeName reduces a SAML attribute name, possibly a full
// claim URI, to its lower-cased last segment
func normalizeAttributeName(name string) string {
	lowered := strings.ToLower(name)
	if idx := strings.LastIndexAny(lowered, "/:"); idx >= 0 {
		lowered = lowered[idx+1:]
	}
	return lowered
}
