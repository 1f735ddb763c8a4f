// Package auth provides the Gateway's pluggable token Verifier
// contract (spec.md §1, §6: "user authentication and JWT issuance" is
// an out-of-scope external collaborator; "the Gateway only checks
// signature/expiry via a pluggable verifier") plus a reference
// implementation so the module runs standalone. The reference scheme
// is deliberately not a full JWT: none of this module's retrieved
// dependency stack ships a JWT library, so rather than fabricate one
// this issues compact HMAC-signed bearer tokens with the same sub/exp
// claim shape spec.md names, built on stdlib crypto/hmac. A production
// deployment is expected to swap Verifier for one backed by its real
// identity provider.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/huntrelay/huntrelay/internal/ids"
)

// Claims is the decoded identity behind a bearer token.
type Claims struct {
	Subject   ids.AnalystID
	ExpiresAt time.Time
}

// Verifier checks a bearer token's signature and expiry and returns
// the identity it asserts. The Gateway depends on this interface only
// — it never issues tokens itself.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// Issuer issues and rotates tokens. The reference implementation below
// satisfies both Verifier and Issuer; a real deployment may keep
// Issuer internal to its IdP and only ship the Gateway a Verifier.
type Issuer interface {
	Verifier
	IssueAccessToken(sub ids.AnalystID, ttl time.Duration) (string, error)
	IssueRefreshToken(sub ids.AnalystID) (string, error)
}

type claimsWire struct {
	Sub string `json:"sub"`
	Exp int64  `json:"exp"`
	// Typ distinguishes access tokens from refresh tokens so a refresh
	// token can't be replayed as an access token.
	Typ string `json:"typ"`
}

// HMACIssuer implements Issuer with HMAC-SHA256-signed tokens.
type HMACIssuer struct {
	key []byte
}

// NewHMACIssuer constructs an HMACIssuer. key should be at least 32
// random bytes, typically loaded from an environment variable at
// startup (see cmd/huntrelay-server).
func NewHMACIssuer(key []byte) (*HMACIssuer, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("auth: signing key must be at least 32 bytes")
	}
	return &HMACIssuer{key: key}, nil
}

const (
	accessTokenType  = "access"
	refreshTokenType = "refresh"

	defaultRefreshTTL = 30 * 24 * time.Hour
)

// IssueAccessToken issues a short-lived bearer token for sub.
func (i *HMACIssuer) IssueAccessToken(sub ids.AnalystID, ttl time.Duration) (string, error) {
	return i.issue(sub, ttl, accessTokenType)
}

// IssueRefreshToken issues a long-lived rotation token for sub.
func (i *HMACIssuer) IssueRefreshToken(sub ids.AnalystID) (string, error) {
	return i.issue(sub, defaultRefreshTTL, refreshTokenType)
}

func (i *HMACIssuer) issue(sub ids.AnalystID, ttl time.Duration, typ string) (string, error) {
	claims := claimsWire{Sub: sub.String(), Exp: time.Now().Add(ttl).Unix(), Typ: typ}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("auth: encoding claims: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	sig := i.sign(encoded)
	return encoded + "." + sig, nil
}

func (i *HMACIssuer) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, i.key)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify implements Verifier.
func (i *HMACIssuer) Verify(token string) (Claims, error) {
	return i.verify(token, accessTokenType)
}

// VerifyRefresh validates a refresh token specifically, rejecting an
// access token presented in its place.
func (i *HMACIssuer) VerifyRefresh(token string) (Claims, error) {
	return i.verify(token, refreshTokenType)
}

func (i *HMACIssuer) verify(token, wantType string) (Claims, error) {
	encoded, sig, ok := splitToken(token)
	if !ok {
		return Claims{}, fmt.Errorf("auth: malformed token")
	}

	want := i.sign(encoded)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(want)) != 1 {
		return Claims{}, fmt.Errorf("auth: invalid signature")
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Claims{}, fmt.Errorf("auth: decoding claims: %w", err)
	}
	var claims claimsWire
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, fmt.Errorf("auth: decoding claims: %w", err)
	}
	if claims.Typ != wantType {
		return Claims{}, fmt.Errorf("auth: wrong token type: got %s, want %s", claims.Typ, wantType)
	}

	exp := time.Unix(claims.Exp, 0)
	if time.Now().After(exp) {
		return Claims{}, fmt.Errorf("auth: token expired at %s", exp)
	}

	return Claims{Subject: ids.AnalystID(claims.Sub), ExpiresAt: exp}, nil
}

func splitToken(token string) (encoded, sig string, ok bool) {
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			return token[:i], token[i+1:], true
		}
	}
	return "", "", false
}

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether plaintext matches hash.
func CheckPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// GenerateSigningKey returns fresh random key material suitable for
// NewHMACIssuer.
func GenerateSigningKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("auth: generating signing key: %w", err)
	}
	return key, nil
}
