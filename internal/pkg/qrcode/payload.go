// internal/pkg/qrcode/payload.go
package qrcode

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	xerrors "qrlogin-service/internal/pkg/errors"

	"golang.org/x/crypto/scrypt"
)

const payloadAAD = "qr-login-data"

// scrypt parameters for deriving the AES key from the shared secret
const (
	scryptN = 16384
	scryptR = 8
	scryptP = 1
)

// content is the cleartext inside a sealed payload: the session id, the
// issue timestamp and an HMAC binding the two to the secret. The payload
// is therefore unforgeable from the session id alone.
type content struct {
	SID string `json:"sid"`
	TS  int64  `json:"ts"` // unix millis
	Sig string `json:"sig"`
}

// envelope is the encrypted wire form of a payload.
type envelope struct {
	C   string `json:"c"`   // ciphertext, base64
	IV  string `json:"iv"`  // 12-byte GCM nonce, base64
	Tag string `json:"tag"` // 16-byte GCM tag, base64
}

// Sealer encrypts and authenticates QR payloads with a key derived from a
// deployment secret.
type Sealer struct {
	key    []byte
	secret []byte
	maxAge time.Duration
}

// NewSealer derives the AES-256 key from the secret. maxAge bounds how old
// a payload may be when opened; zero disables the check.
func NewSealer(secret string, maxAge time.Duration) (*Sealer, error) {
	if secret == "" {
		return nil, fmt.Errorf("qr payload secret is empty")
	}

	key, err := scrypt.Key([]byte(secret), []byte("salt"), scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive qr payload key: %w", err)
	}

	return &Sealer{key: key, secret: []byte(secret), maxAge: maxAge}, nil
}

// Seal produces the opaque string embedded in the QR image.
func (s *Sealer) Seal(sessionID string, issuedAt time.Time) (string, error) {
	ts := issuedAt.UnixMilli()
	inner, err := json.Marshal(content{
		SID: sessionID,
		TS:  ts,
		Sig: s.sign(sessionID, ts),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal qr payload: %w", err)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to build gcm: %w", err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, inner, []byte(payloadAAD))

	// GCM appends the tag; keep it as a separate field on the wire
	tagAt := len(sealed) - gcm.Overhead()
	out, err := json.Marshal(envelope{
		C:   base64.StdEncoding.EncodeToString(sealed[:tagAt]),
		IV:  base64.StdEncoding.EncodeToString(iv),
		Tag: base64.StdEncoding.EncodeToString(sealed[tagAt:]),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal qr envelope: %w", err)
	}

	return string(out), nil
}

// Open decrypts a sealed payload and verifies its signature and age.
// Any tampering or malformed input comes back as ErrInvalidPayload.
func (s *Sealer) Open(qrData string, now time.Time) (string, time.Time, error) {
	var env envelope
	if err := json.Unmarshal([]byte(qrData), &env); err != nil {
		return "", time.Time{}, xerrors.Wrap(xerrors.ErrInvalidPayload, "malformed envelope")
	}

	ct, errC := base64.StdEncoding.DecodeString(env.C)
	iv, errIV := base64.StdEncoding.DecodeString(env.IV)
	tag, errT := base64.StdEncoding.DecodeString(env.Tag)
	if errC != nil || errIV != nil || errT != nil {
		return "", time.Time{}, xerrors.Wrap(xerrors.ErrInvalidPayload, "bad base64")
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to build gcm: %w", err)
	}
	if len(iv) != gcm.NonceSize() || len(tag) != gcm.Overhead() {
		return "", time.Time{}, xerrors.Wrap(xerrors.ErrInvalidPayload, "bad iv or tag length")
	}

	inner, err := gcm.Open(nil, iv, append(ct, tag...), []byte(payloadAAD))
	if err != nil {
		return "", time.Time{}, xerrors.Wrap(xerrors.ErrInvalidPayload, "decryption failed")
	}

	var c content
	if err := json.Unmarshal(inner, &c); err != nil || c.SID == "" {
		return "", time.Time{}, xerrors.Wrap(xerrors.ErrInvalidPayload, "malformed content")
	}

	if !s.verify(c.SID, c.TS, c.Sig) {
		return "", time.Time{}, xerrors.Wrap(xerrors.ErrInvalidPayload, "signature mismatch")
	}

	issuedAt := time.UnixMilli(c.TS)
	if s.maxAge > 0 && now.Sub(issuedAt) > s.maxAge {
		return "", time.Time{}, xerrors.Wrap(xerrors.ErrSessionExpired, "payload too old")
	}

	return c.SID, issuedAt, nil
}

// sign computes HMAC-SHA256 over "sessionId:ts".
func (s *Sealer) sign(sessionID string, ts int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", sessionID, ts)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Sealer) verify(sessionID string, ts int64, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", sessionID, ts)
	return subtle.ConstantTimeCompare(want, mac.Sum(nil)) == 1
}
