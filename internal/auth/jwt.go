package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionTTL is how long an issued token stays valid.
const SessionTTL = 12 * time.Hour

// Claims is the verified content of a session token.
type Claims struct {
	Subject string
	Role    string
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer creates an issuer from the shared signing secret.
func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &Issuer{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a session token for the given subject and role.
func (i *Issuer) Issue(subject, role string) (string, error) {
	now := i.now().UTC()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(SessionTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errors.New("auth: token missing subject")
	}
	role, _ := claims["role"].(string)
	return &Claims{Subject: sub, Role: role}, nil
}
