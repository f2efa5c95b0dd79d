package ui

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// AdminClaims is the claim set an admin bearer token carries.
type AdminClaims struct {
	Subject string `json:"sub"`
	jwt.StandardClaims
}

// AdminAuth issues and verifies HS256 admin tokens gating the
// POST /pipelines/{id}/cancel endpoint.
type AdminAuth struct {
	secret []byte
}

// NewAdminAuth builds an AdminAuth around secret. An empty secret disables
// token verification (Middleware then rejects every request, since an
// unconfigured admin surface must fail closed).
func NewAdminAuth(secret string) *AdminAuth {
	return &AdminAuth{secret: []byte(secret)}
}

// IssueToken mints a token for subject valid for ttl, for operator tooling
// to bootstrap an admin session.
func (a *AdminAuth) IssueToken(subject string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("admin auth secret not configured")
	}
	now := time.Now()
	claims := AdminClaims{
		Subject: subject,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Verify parses and validates a bearer token, returning its subject.
func (a *AdminAuth) Verify(tokenString string) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("admin auth secret not configured")
	}
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid admin token: %w", err)
	}
	return claims.Subject, nil
}

// Middleware rejects any request without a valid "Authorization: Bearer
// <token>" header.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == "" || tokenString == header {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if _, err := a.Verify(tokenString); err != nil {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
