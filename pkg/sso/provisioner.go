package sso

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dwellos/ssobridge/pkg/auth"
)

// Default names for auto-provisioned users when the provider asserts none.
const (
	defaultFirstName = "SSO"
	defaultLastName  = "User"
)

// Provisioner resolves an asserted identity into an authenticated session,
// creating the user record just-in-time when necessary.
type Provisioner struct {
	db     *sql.DB
	issuer *auth.SessionIssuer
}

// NewProvisioner creates an identity resolver over the user store
func NewProvisioner(db *sql.DB, issuer *auth.SessionIssuer) *Provisioner {
	return &Provisioner{db: db, issuer: issuer}
}

// ResolveAndIssueSession maps the asserted email to an existing account or
// auto-provisions one, links it to the provider, and issues a session token.
//
// Emails are matched case-insensitively and stored lower-cased. The
// first-login create race is settled by the unique constraint on the email
// column: a concurrent insert loses the race, observes the conflict, and
// re-fetches the winner's row as the existing-user path. A user already
// linked to a different provider is rejected with ErrConflict rather than
// silently re-linked.
func (p *Provisioner) ResolveAndIssueSession(ctx context.Context, provider *Provider, identity *Identity) (*LoginResult, error) {
	if identity == nil || strings.TrimSpace(identity.Email) == "" {
		return nil, fmt.Errorf("asserted identity has no email: %w", ErrValidation)
	}
	email := strings.ToLower(strings.TrimSpace(identity.Email))

	user, err := p.findUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	provisioned := false
	if user == nil {
		user, err = p.createUser(ctx, provider, identity, email)
		switch {
		case err == nil:
			provisioned = true
		case isUniqueViolation(err):
			// Lost the first-login race; the winner's row is the account.
			user, err = p.findUserByEmail(ctx, email)
			if err != nil {
				return nil, err
			}
			if user == nil {
				return nil, fmt.Errorf("user vanished after create conflict for %s", email)
			}
		default:
			return nil, err
		}
	}

	if !provisioned {
		if !user.IsActive {
			return nil, fmt.Errorf("user account is disabled: %w", ErrUnauthorized)
		}

		switch {
		case user.SSOProviderID == nil:
			// One-time upgrade path: adopt the provider link.
			if err := p.linkProvider(ctx, user, provider.ID); err != nil {
				return nil, err
			}
		case *user.SSOProviderID != provider.ID:
			return nil, fmt.Errorf("user is already linked to another SSO provider: %w", ErrConflict)
		default:
			if err := p.touchLastLogin(ctx, user); err != nil {
				return nil, err
			}
		}
	}

	token, err := p.issuer.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	return &LoginResult{User: user, Token: token, Provisioned: provisioned}, nil
}

// userColumns is the column list every user query scans.
const userColumns = `id, email, first_name, last_name, role, subscription_tier,
		is_active, sso_provider_id, created_at, updated_at, last_login_at`

// findUserByEmail looks a user up by lower-cased email.
// Returns (nil, nil) when absent.
func (p *Provisioner) findUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	user := &auth.User{}
	err := p.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE lower(email) = $1
	`, email).Scan(
		&user.ID, &user.Email, &user.FirstName, &user.LastName,
		&user.Role, &user.SubscriptionTier, &user.IsActive,
		&user.SSOProviderID, &user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return user, nil
}

// createUser auto-provisions a user from the asserted identity: default
// names when absent, an unusable random password placeholder, the USER role,
// the free tier, and a link to the initiating provider.
func (p *Provisioner) createUser(ctx context.Context, provider *Provider, identity *Identity, email string) (*auth.User, error) {
	firstName := identity.FirstName
	if firstName == "" {
		firstName = defaultFirstName
	}
	lastName := identity.LastName
	if lastName == "" {
		lastName = defaultLastName
	}

	passwordHash, err := auth.UnusablePasswordHash()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &auth.User{
		ID:               uuid.NewString(),
		Email:            email,
		FirstName:        firstName,
		LastName:         lastName,
		Role:             auth.RoleUser,
		SubscriptionTier: auth.TierFree,
		IsActive:         true,
		SSOProviderID:    &provider.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
		LastLoginAt:      &now,
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO users (
			id, email, first_name, last_name, password_hash, role,
			subscription_tier, is_active, sso_provider_id,
			created_at, updated_at, last_login_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, user.ID, user.Email, user.FirstName, user.LastName, passwordHash,
		user.Role, user.SubscriptionTier, user.IsActive, user.SSOProviderID,
		user.CreatedAt, user.UpdatedAt, user.LastLoginAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

// linkProvider sets the provider link on a previously unlinked user.
// Role and tier are left untouched.
func (p *Provisioner) linkProvider(ctx context.Context, user *auth.User, providerID string) error {
	now := time.Now().UTC()
	_, err := p.db.ExecContext(ctx, `
		UPDATE users
		SET sso_provider_id = $1, updated_at = $2, last_login_at = $2
		WHERE id = $3
	`, providerID, now, user.ID)
	if err != nil {
		return fmt.Errorf("link user to provider: %w", err)
	}

	user.SSOProviderID = &providerID
	user.UpdatedAt = now
	user.LastLoginAt = &now
	return nil
}

// touchLastLogin records the successful login on an already-linked user
func (p *Provisioner) touchLastLogin(ctx context.Context, user *auth.User) error {
	now := time.Now().UTC()
	_, err := p.db.ExecContext(ctx, `
		UPDATE users
		SET last_login_at = $1
		WHERE id = $2
	`, now, user.ID)
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}

	user.LastLoginAt = &now
	return nil
}
