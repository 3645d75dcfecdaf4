// Package identity resolves who is calling. Guest requests carry a subject
// (the guest's email) verified either by an upstream gateway header or by a
// session JWT; staff requests carry a shared API key.
package identity

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthenticated = errors.New("identity: unauthenticated")
	ErrForbidden       = errors.New("identity: forbidden")
)

// SubjectHeader is set by the session gateway in front of this service.
const SubjectHeader = "X-Guest-Subject"

// StaffHeader names the staff member acting on an alarm or key.
const StaffHeader = "X-Staff-Member"

type Verifier interface {
	Subject(r *http.Request) (string, error)
}

// HeaderVerifier trusts SubjectHeader as already verified upstream.
type HeaderVerifier struct{}

func (HeaderVerifier) Subject(r *http.Request) (string, error) {
	s := strings.TrimSpace(r.Header.Get(SubjectHeader))
	if s == "" {
		return "", ErrUnauthenticated
	}
	return s, nil
}

type SessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTVerifier validates an HS256 session token from the Authorization header.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret, now: time.Now}
}

// WithClock is for tests.
func (v *JWTVerifier) WithClock(now func() time.Time) *JWTVerifier {
	v.now = now
	return v
}

func (v *JWTVerifier) Subject(r *http.Request) (string, error) {
	raw, ok := bearer(r)
	if !ok {
		return "", ErrUnauthenticated
	}
	claims := &SessionClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil || !tok.Valid {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Email != "" {
		return claims.Email, nil
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return "", ErrUnauthenticated
}

// IssueSession mints a session token for email. Used by the dev tooling and
// tests; production sessions come from the guest auth service.
func IssueSession(secret []byte, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// StaffKey checks the shared staff API key. An empty key rejects every
// request.
type StaffKey struct {
	key []byte
}

func NewStaffKey(key string) StaffKey {
	return StaffKey{key: []byte(key)}
}

// Check returns the acting staff member on success.
func (s StaffKey) Check(r *http.Request) (string, error) {
	if len(s.key) == 0 {
		return "", ErrForbidden
	}
	raw, ok := bearer(r)
	if !ok {
		return "", ErrUnauthenticated
	}
	if subtle.ConstantTimeCompare([]byte(raw), s.key) != 1 {
		return "", ErrForbidden
	}
	member := strings.TrimSpace(r.Header.Get(StaffHeader))
	if member == "" {
		member = "staff"
	}
	return member, nil
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}
