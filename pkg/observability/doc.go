// Package observability provides structured logging, Prometheus metrics,
// and health probes for the SSO bridge.
//
// The logger is a thin wrapper over log/slog emitting JSON, with
// field-chaining helpers (WithField, WithError) so request-scoped context
// (action, domain, provider id) travels with every line. Metrics cover the
// HTTP surface plus the SSO business events: login initiations, callbacks,
// and provisioned users.
package observability
