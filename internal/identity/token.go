// Package identity issues and verifies the stateless session tokens
// "<user-id>.<hex-digest>" where the digest is an HMAC of the principal's
// credential hash keyed by the server secret.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

// HeaderPrefix is the scheme used by the HTTP Authorization header.
const HeaderPrefix = "Token "

// PrincipalLoader resolves a principal by id. It returns an apperr.NotFound
// error when the principal does not exist.
type PrincipalLoader interface {
	GetPrincipal(ctx context.Context, id int64) (*models.Principal, error)
}

// Signer derives token digests from credential hashes.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Digest returns hex(HMAC-SHA256(secret, credentialHash)).
func (s *Signer) Digest(credentialHash string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(credentialHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// Token builds the session token for p.
func (s *Signer) Token(p *models.Principal) string {
	return strconv.FormatInt(p.ID, 10) + "." + s.Digest(p.PasswordHash)
}

// Validator checks tokens against the current principal record. It holds
// no mutable state and is safe for concurrent use.
type Validator struct {
	signer *Signer
	users  PrincipalLoader
}

func NewValidator(signer *Signer, users PrincipalLoader) *Validator {
	return &Validator{signer: signer, users: users}
}

// Validate returns the principal a token was issued for. Both the bare
// WebSocket form and the "Token <id>.<digest>" header form are accepted.
func (v *Validator) Validate(ctx context.Context, token string) (*models.Principal, error) {
	id, digest, ok := Parse(token)
	if !ok {
		return nil, apperr.E(apperr.InvalidToken, "invalid token")
	}

	p, err := v.users.GetPrincipal(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil, apperr.E(apperr.InvalidToken, "invalid token")
		}
		return nil, apperr.Wrap(apperr.UpstreamUnavailable, "identity: load principal", err)
	}

	expected := v.signer.Digest(p.PasswordHash)
	if !hmac.Equal([]byte(expected), []byte(digest)) {
		return nil, apperr.E(apperr.InvalidToken, "invalid token")
	}
	return p, nil
}

// canonicalID accepts plain decimal digits without a sign or leading zero,
// so each principal has exactly one token string.
func canonicalID(s string) bool {
	if s == "" || s[0] == '0' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Parse splits a token on its first '.' into id and digest.
func Parse(token string) (int64, string, bool) {
	token = strings.TrimSpace(token)
	token = strings.TrimPrefix(token, HeaderPrefix)
	idPart, digest, found := strings.Cut(token, ".")
	if !found || digest == "" {
		return 0, "", false
	}
	if !canonicalID(idPart) {
		return 0, "", false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, digest, true
}
