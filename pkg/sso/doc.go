// Package sso implements the multi-provider SSO authentication bridge:
// organizational email domain to provider lookup, protocol-specific
// authorization instruction, callback identity extraction, and just-in-time
// user provisioning with session issuance.
//
// The flow has four collaborating pieces:
//
//   - Registry: durable store and domain-keyed lookup of provider
//     configurations (at most one active provider per domain).
//   - Initiator: converts a domain plus desired post-login redirect into a
//     provider-specific authorization instruction the browser can act on.
//   - CallbackProcessor: given the provider that initiated login and the
//     protocol-specific response payload, extracts an asserted identity.
//   - Provisioner: maps the asserted email to an existing account or
//     auto-provisions one, links it to the provider, and issues a session
//     token.
//
// Protocol differences (SAML 2.0, OAuth2, OIDC) are isolated behind the
// Strategy interface; each strategy implements BuildAuthorization and
// ExtractIdentity, selected once per provider lookup. Login initiation and
// callback handling are two independent request cycles: the persisted
// provider record is the only link between them, and the browser carries the
// state/nonce/request id across the redirect round-trip.
package sso
