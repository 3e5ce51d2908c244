package sso

import (
	"context"
	"fmt"
)

// CallbackProcessor turns a provider callback payload into an asserted
// identity. Login initiation and callback are independent request cycles;
// the provider record is the only persisted link between them.
type CallbackProcessor struct {
	registry           *Registry
	strategies         *StrategySet
	defaultRedirectURL string
}

// NewCallbackProcessor creates a callback processor
func NewCallbackProcessor(registry *Registry, strategies *StrategySet, defaultRedirectURL string) *CallbackProcessor {
	return &CallbackProcessor{
		registry:           registry,
		strategies:         strategies,
		defaultRedirectURL: defaultRedirectURL,
	}
}

// Process resolves the initiating provider and extracts the asserted
// identity from the protocol-specific payload. Fails with ErrNotFound when
// the provider id does not resolve to an active provider, regardless of
// payload, and with ErrValidation when the payload shape does not match the
// provider's protocol.
func (c *CallbackProcessor) Process(ctx context.Context, req *CallbackRequest) (*Provider, *Identity, error) {
	if req.ProviderID == "" {
		return nil, nil, fmt.Errorf("providerId is required: %w", ErrValidation)
	}

	provider, err := c.registry.FindActiveByID(ctx, req.ProviderID)
	if err != nil {
		return nil, nil, err
	}

	strategy, err := c.strategies.For(provider.Type)
	if err != nil {
		return nil, nil, err
	}

	if req.RedirectURL == "" {
		req.RedirectURL = c.defaultRedirectURL
	}

	identity, err := strategy.ExtractIdentity(ctx, provider, req)
	if err != nil {
		return nil, nil, err
	}

	return provider, identity, nil
}
