package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTokenInvalid covers malformed tokens and signature mismatches.
	ErrTokenInvalid = errors.New("invalid download token")
	// ErrTokenExpired is returned for well-signed tokens past their expiry.
	ErrTokenExpired = errors.New("download token expired")
)

// DownloadGrant is what a token authorises: one subject fetching one artifact.
type DownloadGrant struct {
	SubjectID string    `json:"sub"`
	Handle    string    `json:"h"`
	ExpiresAt time.Time `json:"-"`
	Expiry    int64     `json:"exp"`
}

// SignedURLSigner issues and checks HMAC-SHA256 download tokens of the form
// base64url(grant).base64url(mac).
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer. A non-positive ttl means 24h.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate returns a token granting subjectID access to handle until the
// returned expiry.
func (s *SignedURLSigner) Generate(subjectID, handle string) (string, time.Time, error) {
	if subjectID == "" || handle == "" {
		return "", time.Time{}, fmt.Errorf("subject and handle required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	body, err := json.Marshal(DownloadGrant{SubjectID: subjectID, Handle: handle, Expiry: expiresAt.Unix()})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encode grant: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(body)
	return encoded + "." + base64.RawURLEncoding.EncodeToString(s.sign(encoded)), expiresAt, nil
}

// Parse checks a token and returns its grant. With allowExpired the expiry
// is reported but not enforced.
func (s *SignedURLSigner) Parse(token string, allowExpired bool) (DownloadGrant, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || sig == "" {
		return DownloadGrant{}, ErrTokenInvalid
	}
	mac, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(mac, s.sign(encoded)) {
		return DownloadGrant{}, ErrTokenInvalid
	}
	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return DownloadGrant{}, ErrTokenInvalid
	}
	var grant DownloadGrant
	if err := json.Unmarshal(body, &grant); err != nil || grant.SubjectID == "" || grant.Handle == "" {
		return DownloadGrant{}, ErrTokenInvalid
	}
	grant.ExpiresAt = time.Unix(grant.Expiry, 0)
	if !allowExpired && s.now().After(grant.ExpiresAt) {
		return grant, ErrTokenExpired
	}
	return grant, nil
}

func (s *SignedURLSigner) sign(encoded string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(encoded))
	return mac.Sum(nil)
}
