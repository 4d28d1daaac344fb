package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/service"
)

const sessionHeader = "X-Session-ID"

var errUnauthorized = errors.New("invalid token")

type identityKey struct{}

type sessionIssuedKey struct{}

// IdentityVerifier resolves who a request belongs to. A valid bearer token
// names a signed-in user; otherwise the X-Session-ID header names an
// anonymous session, and a new one is issued when it is missing.
type IdentityVerifier struct {
	secret []byte
}

func NewIdentityVerifier(secret string) *IdentityVerifier {
	return &IdentityVerifier{secret: []byte(secret)}
}

func (v *IdentityVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, issued, err := v.resolve(w, r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, apiResponse{Error: err.Error()})
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		if issued {
			ctx = context.WithValue(ctx, sessionIssuedKey{}, true)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolve reports issued when the session id was minted for this request.
func (v *IdentityVerifier) resolve(w http.ResponseWriter, r *http.Request) (service.CartIdentity, bool, error) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		userID, err := v.subject(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			return service.CartIdentity{}, false, err
		}
		return service.UserIdentity(userID), false, nil
	}

	issued := false
	sid := strings.TrimSpace(r.Header.Get(sessionHeader))
	if sid == "" {
		sid = uuid.NewString()
		issued = true
	}
	w.Header().Set(sessionHeader, sid)
	return service.SessionIdentity(sid), issued, nil
}

func (v *IdentityVerifier) subject(token string) (string, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("%w: sign-in is not configured", errUnauthorized)
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUnauthorized, err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", errUnauthorized
	}
	return claims.Subject, nil
}

func identityFrom(ctx context.Context) (service.CartIdentity, bool) {
	id, ok := ctx.Value(identityKey{}).(service.CartIdentity)
	return id, ok
}

// sessionIssued reports whether the request's session is brand new, so
// nothing can be stored under it yet.
func sessionIssued(ctx context.Context) bool {
	issued, _ := ctx.Value(sessionIssuedKey{}).(bool)
	return issued
}
