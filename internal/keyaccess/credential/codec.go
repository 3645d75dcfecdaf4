// Package credential signs and verifies the self-contained room credential
// presented at a lock. Tokens are compact HS256 JWS values; the signing key
// is derived from the configured secret so the raw secret never touches the
// MAC directly.
package credential

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

// MinSecretLen is the shortest secret NewCodec accepts.
const MinSecretLen = 32

const (
	issuer   = "keyaccess"
	hkdfInfo = "keyaccess room credential v1"
)

var (
	ErrDecode           = errors.New("credential: malformed token")
	ErrInvalidSignature = errors.New("credential: invalid signature")
	ErrExpired          = errors.New("credential: expired")

	ErrSecretTooShort = fmt.Errorf("credential: secret must be at least %d bytes", MinSecretLen)
)

// Claims is everything a lock-side verifier needs without a database hit.
type Claims struct {
	KeyID      string
	BookingID  string
	RoomID     string
	RoomNumber string
	HotelID    string
	Subject    string
	Kind       types.KeyKind
	ValidUntil time.Time
	IssuedAt   time.Time
}

type wireClaims struct {
	KeyID      string        `json:"kid"`
	BookingID  string        `json:"bid"`
	RoomID     string        `json:"rid"`
	RoomNumber string        `json:"rno"`
	HotelID    string        `json:"hid"`
	Kind       types.KeyKind `json:"knd"`
	ValidUntil int64         `json:"vut"`
	jwt.RegisteredClaims
}

type Codec struct {
	key []byte
	now func() time.Time
}

type Option func(*Codec)

// WithClock overrides the time source used for issued-at and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrSecretTooShort
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("credential: derive key: %w", err)
	}
	c := &Codec{key: key, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Issue signs claims. ValidUntil doubles as the JWT exp so both expiry
// sources agree on every token this codec produces.
func (c *Codec) Issue(cl Claims) (string, error) {
	if cl.KeyID == "" {
		return "", fmt.Errorf("credential: key id is required")
	}
	if cl.ValidUntil.IsZero() {
		return "", fmt.Errorf("credential: valid-until is required")
	}
	iat := cl.IssuedAt
	if iat.IsZero() {
		iat = c.now()
	}
	vu := cl.ValidUntil.UTC().Truncate(time.Second)
	wc := wireClaims{
		KeyID:      cl.KeyID,
		BookingID:  cl.BookingID,
		RoomID:     cl.RoomID,
		RoomNumber: cl.RoomNumber,
		HotelID:    cl.HotelID,
		Kind:       cl.Kind,
		ValidUntil: vu.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   cl.Subject,
			ID:        cl.KeyID,
			ExpiresAt: jwt.NewNumericDate(vu),
			IssuedAt:  jwt.NewNumericDate(iat.UTC().Truncate(time.Second)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, wc)
	s, err := tok.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("credential: sign: %w", err)
	}
	return s, nil
}

// Verify checks signature and expiry and returns the embedded claims.
// The returned error always wraps exactly one of ErrDecode,
// ErrInvalidSignature or ErrExpired.
func (c *Codec) Verify(token string) (Claims, error) {
	var wc wireClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(c.now),
		// The library treats exp as exclusive; the inclusive valid-until
		// check below is authoritative.
		jwt.WithLeeway(time.Second),
	)
	_, err := parser.ParseWithClaims(token, &wc, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	})
	if err != nil {
		return Claims{}, classify(err)
	}

	// exp and vut are signed together; a mismatch means the token was not
	// produced by Issue and is rejected rather than trusting either field.
	if wc.ExpiresAt == nil || wc.ExpiresAt.Unix() != wc.ValidUntil {
		return Claims{}, fmt.Errorf("%w: expiry claims disagree", ErrInvalidSignature)
	}
	vu := time.Unix(wc.ValidUntil, 0).UTC()
	if c.now().After(vu) {
		return Claims{}, ErrExpired
	}
	if wc.KeyID == "" {
		return Claims{}, fmt.Errorf("%w: missing key id", ErrDecode)
	}

	cl := Claims{
		KeyID:      wc.KeyID,
		BookingID:  wc.BookingID,
		RoomID:     wc.RoomID,
		RoomNumber: wc.RoomNumber,
		HotelID:    wc.HotelID,
		Subject:    wc.Subject,
		Kind:       wc.Kind,
		ValidUntil: vu,
	}
	if wc.IssuedAt != nil {
		cl.IssuedAt = wc.IssuedAt.Time.UTC()
	}
	return cl, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrDecode, err)
	default:
		// Unverifiable, bad signature, bad issuer, unknown alg: all fail closed.
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
}
