// Package auth resolves the sid presented on the WebSocket upgrade to a
// user. User accounts live elsewhere; the sid is either the user id itself
// or, when a secret is configured, the id signed with HMAC-SHA256.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/pliu/chatterbox/internal/models"
)

var ErrInvalidSID = errors.New("invalid sid")

// Resolver maps a sid to the user it identifies.
type Resolver interface {
	Resolve(sid string) (models.UserID, error)
}

// Signer issues and checks signed sids of the form
// "base64(user)|base64(signature)". A Signer without a secret accepts any
// non-empty sid as a raw user id.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	if secret == "" {
		return &Signer{}
	}
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) Sign(user models.UserID) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(user))
	return fmt.Sprintf("%s|%s",
		base64.URLEncoding.EncodeToString([]byte(user)),
		base64.URLEncoding.EncodeToString(mac.Sum(nil)))
}

func (s *Signer) Verify(sid string) (models.UserID, error) {
	parts := strings.Split(sid, "|")
	if len(parts) != 2 {
		return "", errors.Wrap(ErrInvalidSID, "format")
	}

	value, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil || len(value) == 0 {
		return "", errors.Wrap(ErrInvalidSID, "value encoding")
	}
	signature, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", errors.Wrap(ErrInvalidSID, "signature encoding")
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(value)
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return "", errors.Wrap(ErrInvalidSID, "signature")
	}
	return models.UserID(value), nil
}

func (s *Signer) Resolve(sid string) (models.UserID, error) {
	sid = strings.TrimSpace(sid)
	if sid == "" {
		return "", errors.Wrap(ErrInvalidSID, "empty")
	}
	if len(s.secret) == 0 {
		return models.UserID(sid), nil
	}
	return s.Verify(sid)
}
