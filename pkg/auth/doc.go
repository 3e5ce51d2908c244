// Package auth issues and verifies the session tokens minted after a
// successful SSO login, and defines the user model shared across the bridge.
//
// Session tokens are stateless HS256 JWTs carrying the user id, email, and
// role, with a fixed 24-hour lifetime. There is no server-side revocation
// list; expiry is the only invalidation mechanism.
package auth
