package session

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/thejerf/abtime"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"atms/identity/internal/model"
)

const (
	MinSecretBytes = 32

	issuer       = "atms-identity"
	tokenVersion = "v1."
)

var (
	ErrSecretTooShort = fmt.Errorf("session secret must be at least %d bytes", MinSecretBytes)
	ErrInvalidToken   = errors.New("invalid session token")
	ErrExpired        = errors.New("session expired")
)

var encoding = base64.RawURLEncoding.Strict()

// Payload is the identity carried by a session cookie. Seal ignores
// IssuedAt and stamps the clock's current time; Unseal returns it with
// second precision.
type Payload struct {
	UserID        string
	Role          string
	WalletAddress string
	Details       model.AccountDetails
	IssuedAt      time.Time
}

type claims struct {
	UserID        string               `json:"uid"`
	Role          string               `json:"role"`
	WalletAddress string               `json:"addr"`
	Details       model.AccountDetails `json:"details"`
	jwt.RegisteredClaims
}

// Codec signs the payload as an HS256 JWT and seals the JWT with
// XChaCha20-Poly1305, so the cookie is both opaque and tamper-evident.
type Codec struct {
	signKey []byte
	aead    cipher.AEAD
	ttl     time.Duration
	clock   abtime.AbstractTime
}

func NewCodec(secret []byte, ttl time.Duration, clock abtime.AbstractTime) (*Codec, error) {
	if len(secret) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	signKey, err := deriveKey(secret, "atms session signing")
	if err != nil {
		return nil, err
	}
	sealKey, err := deriveKey(secret, "atms session sealing")
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(sealKey)
	if err != nil {
		return nil, err
	}
	return &Codec{signKey: signKey, aead: aead, ttl: ttl, clock: clock}, nil
}

func (c *Codec) TTL() time.Duration { return c.ttl }

// Seal issues a token valid for the codec's TTL from now.
func (c *Codec) Seal(p Payload) (string, error) {
	issuedAt := c.clock.Now().UTC().Truncate(time.Second)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:        p.UserID,
		Role:          p.Role,
		WalletAddress: p.WalletAddress,
		Details:       p.Details,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(c.ttl)),
		},
	})
	signed, err := token.SignedString(c.signKey)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(signed)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(signed), []byte(tokenVersion))
	return tokenVersion + encoding.EncodeToString(sealed), nil
}

func (c *Codec) Unseal(token string) (Payload, error) {
	body, ok := strings.CutPrefix(token, tokenVersion)
	if !ok {
		return Payload{}, ErrInvalidToken
	}
	sealed, err := encoding.DecodeString(body)
	if err != nil || len(sealed) < c.aead.NonceSize()+c.aead.Overhead() {
		return Payload{}, ErrInvalidToken
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	signed, err := c.aead.Open(nil, nonce, ciphertext, []byte(tokenVersion))
	if err != nil {
		return Payload{}, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(string(signed), &claims{}, func(*jwt.Token) (interface{}, error) {
		return c.signKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Payload{}, ErrExpired
		}
		return Payload{}, ErrInvalidToken
	}
	cl, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return Payload{}, ErrInvalidToken
	}
	p := Payload{
		UserID:        cl.UserID,
		Role:          cl.Role,
		WalletAddress: cl.WalletAddress,
		Details:       cl.Details,
	}
	if cl.IssuedAt != nil {
		p.IssuedAt = cl.IssuedAt.Time.UTC()
	}
	return p, nil
}

func deriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}
