package core

import (
	"context"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Identity is the resolved result of authenticating a request. It lives for
// one request/response cycle unless captured into a session. UserID 0 is
// reserved for the legacy shared-credential operator and the guest identity.
type Identity struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// GuestIdentity is handed downstream when authentication is disabled so
// handlers never need to special-case the absence of a caller.
func GuestIdentity() Identity {
	return Identity{UserID: 0, Username: "guest", IsAdmin: false}
}

// ErrInvalidCredentials is returned when username/password is wrong. The
// message never reveals which of the two failed, or whether the account
// exists.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthMode selects the failure-response shape for unauthenticated browser
// requests: redirect to the login page when registered accounts exist, or a
// native Basic challenge in pure shared-credential deployments.
type AuthMode int

const (
	AuthModeLegacy AuthMode = iota
	AuthModeMultiAccount
)

func (m AuthMode) String() string {
	if m == AuthModeMultiAccount {
		return "multi-account"
	}
	return "legacy"
}

// CredentialResolver turns a username/password pair into an Identity. The
// credential store is consulted first; the statically configured shared
// credential is a fallback so single-operator deployments keep working after
// an upgrade to the multi-account model.
type CredentialResolver struct {
	users          UserRepository
	legacyUsername string
	legacyPassword string
}

func NewCredentialResolver(users UserRepository, legacyUsername, legacyPassword string) *CredentialResolver {
	return &CredentialResolver{
		users:          users,
		legacyUsername: legacyUsername,
		legacyPassword: legacyPassword,
	}
}

// Verify resolves credentials. It returns ErrInvalidCredentials on any
// mismatch; store errors other than a missing account propagate so the
// router can answer 500 instead of masking an outage as a 401.
func (r *CredentialResolver) Verify(ctx context.Context, username, password string) (Identity, error) {
	if username == "" || password == "" {
		return Identity{}, ErrInvalidCredentials
	}

	u, err := r.users.FindByUsername(ctx, username)
	switch {
	case err == nil:
		if !u.Enabled {
			return Identity{}, ErrInvalidCredentials
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}, nil
	case errors.Is(err, ErrUserNotFound):
		// fall through to the legacy credential
	default:
		return Identity{}, err
	}

	if r.legacyConfigured() &&
		subtle.ConstantTimeCompare([]byte(username), []byte(r.legacyUsername)) == 1 &&
		subtle.ConstantTimeCompare([]byte(password), []byte(r.legacyPassword)) == 1 {
		return Identity{UserID: 0, Username: username, IsAdmin: true}, nil
	}

	return Identity{}, ErrInvalidCredentials
}

func (r *CredentialResolver) legacyConfigured() bool {
	return r.legacyUsername != "" && r.legacyPassword != ""
}

// Enabled reports whether any authentication regime is configured: at least
// one registered account or the legacy shared credential. When false every
// request resolves to the guest identity and no gate is enforced.
func (r *CredentialResolver) Enabled(ctx context.Context) (bool, error) {
	if r.legacyConfigured() {
		return true, nil
	}
	n, err := r.users.Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mode resolves the current auth mode from the account count. Resolved once
// per request so the redirect-vs-challenge branch is explicit, not implicit
// in scattered conditionals.
func (r *CredentialResolver) Mode(ctx context.Context) (AuthMode, error) {
	n, err := r.users.Count(ctx)
	if err != nil {
		return AuthModeLegacy, err
	}
	if n > 0 {
		return AuthModeMultiAccount, nil
	}
	return AuthModeLegacy, nil
}
