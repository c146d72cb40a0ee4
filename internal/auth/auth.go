// Package auth is the identity boundary. The game consumes it as an opaque
// authenticate(credential) -> identity collaborator; registration, login and
// credential storage live elsewhere.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidCredential is returned when a credential cannot be verified.
var ErrInvalidCredential = errors.New("invalid credential")

// Identity is an authenticated user.
type Identity struct {
	UserID   uuid.UUID
	Username string
}

// Authenticator verifies a client credential.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Identity, error)
}

// TokenAuthenticator verifies tokens of the form
// "<userID>.<username>.<hex hmac-sha256>", signed with a shared secret by
// the identity service.
type TokenAuthenticator struct {
	secret []byte
}

func NewTokenAuthenticator(secret string) *TokenAuthenticator {
	return &TokenAuthenticator{secret: []byte(secret)}
}

func (a *TokenAuthenticator) Authenticate(ctx context.Context, credential string) (Identity, error) {
	parts := strings.Split(credential, ".")
	if len(parts) != 3 {
		return Identity{}, ErrInvalidCredential
	}

	userID, err := uuid.Parse(parts[0])
	if err != nil {
		return Identity{}, ErrInvalidCredential
	}
	username := parts[1]

	want := a.sign(parts[0], username)
	got, err := hex.DecodeString(parts[2])
	if err != nil || !hmac.Equal(want, got) {
		return Identity{}, ErrInvalidCredential
	}
	return Identity{UserID: userID, Username: username}, nil
}

// Issue mints a token for an identity. Used by dev tooling and tests; in a
// deployment the identity service signs with the same secret.
func (a *TokenAuthenticator) Issue(id Identity) string {
	sig := a.sign(id.UserID.String(), id.Username)
	return fmt.Sprintf("%s.%s.%s", id.UserID, id.Username, hex.EncodeToString(sig))
}

func (a *TokenAuthenticator) sign(userID, username string) []byte {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(userID + "." + username))
	return mac.Sum(nil)
}

// GuestAuthenticator accepts any username as the credential and derives a
// stable user id from it. Dev convenience only, selected when no auth
// secret is configured.
type GuestAuthenticator struct{}

func (GuestAuthenticator) Authenticate(ctx context.Context, credential string) (Identity, error) {
	username := strings.TrimSpace(credential)
	if username == "" {
		return Identity{}, ErrInvalidCredential
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("altiplay:"+username))
	return Identity{UserID: id, Username: username}, nil
}
