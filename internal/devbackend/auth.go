package devbackend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"voltguard/internal/faults"
)

type ctxKey int

const userKey ctxKey = iota

type tokenClaims struct {
	Role faults.Role `json:"role"`
	jwt.RegisteredClaims
}

func (a *API) issueToken(u userRecord) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *API) parseToken(s string) (string, error) {
	var claims tokenClaims
	tok, err := jwt.ParseWithClaims(s, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !tok.Valid {
		return "", errors.New("invalid or expired token")
	}
	return claims.Subject, nil
}

// authenticate resolves the bearer token to a user and stores it in the request context.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeErr(w, faults.Authf("Not authenticated"))
			return
		}
		id, err := a.parseToken(raw)
		if err != nil {
			writeErr(w, faults.Authf("Invalid or expired token"))
			return
		}
		u, err := a.store.UserByID(r.Context(), id)
		if err != nil {
			writeErr(w, faults.Authf("User not found"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}

func currentUser(r *http.Request) userRecord {
	u, _ := r.Context().Value(userKey).(userRecord)
	return u
}

// requireRoles rejects authenticated users whose role is not listed.
func requireRoles(roles ...faults.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := currentUser(r)
			for _, role := range roles {
				if u.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeErr(w, faults.Forbiddenf("Access denied for role %s", u.Role))
		})
	}
}

func checkPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}
