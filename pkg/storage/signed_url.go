package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken covers malformed or tampered tokens.
	ErrInvalidToken = errors.New("invalid signed token")
	// ErrTokenExpired is returned for well-formed tokens past their expiry.
	ErrTokenExpired = errors.New("signed token expired")
)

// SignedObject is the content of a verified token.
type SignedObject struct {
	Subject   string
	Path      string
	ExpiresAt time.Time
}

// SignedURLSigner creates and validates signed download tokens of the form
// subject.expiry.path.signature, with subject and path base64url encoded.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate returns a token granting access to relPath until the TTL elapses.
func (s *SignedURLSigner) Generate(subject, relPath string) (string, time.Time, error) {
	if subject == "" || relPath == "" {
		return "", time.Time{}, fmt.Errorf("subject and path required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	parts := []string{
		base64.RawURLEncoding.EncodeToString([]byte(subject)),
		strconv.FormatInt(expiresAt.Unix(), 10),
		base64.RawURLEncoding.EncodeToString([]byte(relPath)),
	}
	parts = append(parts, s.sign(parts))
	return strings.Join(parts, "."), expiresAt, nil
}

// Parse validates a token. With allowExpired the expiry check is skipped.
func (s *SignedURLSigner) Parse(token string, allowExpired bool) (SignedObject, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return SignedObject{}, fmt.Errorf("%w: format", ErrInvalidToken)
	}
	if !hmac.Equal([]byte(s.sign(parts[:3])), []byte(parts[3])) {
		return SignedObject{}, fmt.Errorf("%w: signature", ErrInvalidToken)
	}
	subject, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return SignedObject{}, fmt.Errorf("%w: subject", ErrInvalidToken)
	}
	expUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return SignedObject{}, fmt.Errorf("%w: expiry", ErrInvalidToken)
	}
	path, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return SignedObject{}, fmt.Errorf("%w: path", ErrInvalidToken)
	}
	obj := SignedObject{Subject: string(subject), Path: string(path), ExpiresAt: time.Unix(expUnix, 0)}
	if !allowExpired && s.now().After(obj.ExpiresAt) {
		return SignedObject{}, ErrTokenExpired
	}
	return obj, nil
}

func (s *SignedURLSigner) sign(parts []string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}
