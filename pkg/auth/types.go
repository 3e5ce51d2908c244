package auth

import "time"

// Role represents a user role
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// SubscriptionTier represents a billing tier
type SubscriptionTier string

const (
	TierFree SubscriptionTier = "FREE"
	TierPro  SubscriptionTier = "PRO"
)

// User represents an account in the user store. The SSO bridge consumes
// this entity; it does not own the broader user lifecycle.
type User struct {
	ID               string           `json:"id"`
	Email            string           `json:"email"`
	FirstName        string           `json:"firstName"`
	LastName         string           `json:"lastName"`
	Role             Role             `json:"role"`
	SubscriptionTier SubscriptionTier `json:"subscriptionTier"`
	IsActive         bool             `json:"isActive"`
	SSOProviderID    *string          `json:"ssoProviderId,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	LastLoginAt      *time.Time       `json:"lastLoginAt,omitempty"`
}
