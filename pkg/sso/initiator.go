package sso

import (
	"context"
	"fmt"
)

// Initiator converts a domain plus desired post-login redirect target into a
// provider-specific authorization instruction
type Initiator struct {
	registry           *Registry
	strategies         *StrategySet
	defaultRedirectURL string
}

// NewInitiator creates a login initiator
func NewInitiator(registry *Registry, strategies *StrategySet, defaultRedirectURL string) *Initiator {
	return &Initiator{
		registry:           registry,
		strategies:         strategies,
		defaultRedirectURL: defaultRedirectURL,
	}
}

// InitiateLogin looks up the active provider for the domain and builds the
// authorization instruction for its protocol. Fails with ErrNotConfigured
// when no active provider matches the domain, and with ErrValidation when
// the domain is missing or the provider type is unknown.
func (i *Initiator) InitiateLogin(ctx context.Context, domain, redirectURL string) (*LoginInstruction, error) {
	if NormalizeDomain(domain) == "" {
		return nil, fmt.Errorf("domain is required: %w", ErrValidation)
	}

	provider, err := i.registry.FindActiveByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, ErrNotConfigured
	}

	strategy, err := i.strategies.For(provider.Type)
	if err != nil {
		return nil, err
	}

	if redirectURL == "" {
		redirectURL = i.defaultRedirectURL
	}

	return strategy.BuildAuthorization(provider, redirectURL)
}
