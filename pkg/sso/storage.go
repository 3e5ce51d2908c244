package sso

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// providerColumns is the column list every provider query scans.
const providerColumns = `id, name, provider_type, domain, sso_url, client_id, client_secret,
		token_url, user_info_url, issuer_url, certificate, is_active, created_at, updated_at`

// Registry stores SSO provider configurations. Domain is the only routing
// key between a login attempt and its provider; the store enforces at most
// one active provider per domain with a partial unique index, so concurrent
// creates cannot race past a pre-read.
type Registry struct {
	db *sql.DB
}

// NewRegistry creates a provider registry over the given database
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// NormalizeDomain lower-cases and trims a domain for case-insensitive matching
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// FindActiveByDomain looks up the active provider for a domain.
// Returns (nil, nil) when no active provider matches: absence means
// "SSO not configured", not an error.
func (r *Registry) FindActiveByDomain(ctx context.Context, domain string) (*Provider, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+providerColumns+`
		FROM sso_providers
		WHERE domain = $1 AND is_active = true
	`, NormalizeDomain(domain))

	provider, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find provider by domain: %w", err)
	}
	return provider, nil
}

// FindActiveByID looks up an active provider by id.
// Returns ErrNotFound when the id does not resolve to an active provider.
func (r *Registry) FindActiveByID(ctx context.Context, id string) (*Provider, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+providerColumns+`
		FROM sso_providers
		WHERE id = $1 AND is_active = true
	`, id)

	provider, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find provider by id: %w", err)
	}
	return provider, nil
}

// Create stores a new provider. The domain is stored lower-cased.
// Returns ErrConflict when an active provider already exists for the domain.
func (r *Registry) Create(ctx context.Context, provider *Provider) error {
	provider.ID = uuid.NewString()
	provider.Domain = NormalizeDomain(provider.Domain)
	provider.IsActive = true
	now := time.Now().UTC()
	provider.CreatedAt = now
	provider.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sso_providers (
			id, name, provider_type, domain, sso_url, client_id, client_secret,
			token_url, user_info_url, issuer_url, certificate, is_active,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, provider.ID, provider.Name, provider.Type, provider.Domain, provider.SSOURL,
		provider.ClientID, provider.ClientSecret, provider.TokenURL,
		provider.UserInfoURL, provider.IssuerURL, provider.Certificate,
		provider.IsActive, provider.CreatedAt, provider.UpdatedAt)

	if isUniqueViolation(err) {
		return fmt.Errorf("active provider already exists for domain %q: %w", provider.Domain, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	return nil
}

// List returns all providers with their linked-user counts, newest first
func (r *Registry) List(ctx context.Context) ([]*ProviderSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.provider_type, p.domain, p.sso_url, p.client_id, p.client_secret,
			p.token_url, p.user_info_url, p.issuer_url, p.certificate, p.is_active,
			p.created_at, p.updated_at, COUNT(u.id) AS linked_users
		FROM sso_providers p
		LEFT JOIN users u ON u.sso_provider_id = p.id
		GROUP BY p.id
		ORDER BY p.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var providers []*ProviderSummary
	for rows.Next() {
		summary := &ProviderSummary{}
		err := rows.Scan(
			&summary.ID, &summary.Name, &summary.Type, &summary.Domain,
			&summary.SSOURL, &summary.ClientID, &summary.ClientSecret,
			&summary.TokenURL, &summary.UserInfoURL, &summary.IssuerURL,
			&summary.Certificate, &summary.IsActive,
			&summary.CreatedAt, &summary.UpdatedAt, &summary.LinkedUsers)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		providers = append(providers, summary)
	}

	return providers, rows.Err()
}

// Deactivate soft-disables a provider. Providers are never hard-deleted so
// the link from already-provisioned users stays intact.
// Returns ErrNotFound when the id does not resolve to an active provider.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sso_providers
		SET is_active = false, updated_at = $1
		WHERE id = $2 AND is_active = true
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("deactivate provider: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate provider: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanProvider
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProvider(row scanner) (*Provider, error) {
	provider := &Provider{}
	err := row.Scan(
		&provider.ID, &provider.Name, &provider.Type, &provider.Domain,
		&provider.SSOURL, &provider.ClientID, &provider.ClientSecret,
		&provider.TokenURL, &provider.UserInfoURL, &provider.IssuerURL,
		&provider.Certificate, &provider.IsActive,
		&provider.CreatedAt, &provider.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return provider, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
