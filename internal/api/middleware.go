/**
 * @description
 * Request middleware for the ROSCA API: bearer-token authentication, the owner gate for
 * administrative routes and the per-caller rate limit on mutating routes.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: token parsing and validation.
 */

package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/circlepot/rosca-service/internal/domain"
)

// AddressContextKey is a custom type for the context key to avoid collisions.
type AddressContextKey string

const callerAddressKey AddressContextKey = "callerAddress"

// JWTAuthMiddleware validates HS256 bearer tokens and stores the `sub` claim, normalized,
// as the caller address.
func JWTAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Invalid token claims")
				return
			}
			subject, _ := claims["sub"].(string)
			addr := domain.NormalizeAddress(subject)
			if addr.IsZero() {
				writeError(w, http.StatusUnauthorized, "Address not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), callerAddressKey, addr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerAddress retrieves the authenticated address from the request context.
func CallerAddress(ctx context.Context) (domain.Address, bool) {
	addr, ok := ctx.Value(callerAddressKey).(domain.Address)
	return addr, ok && !addr.IsZero()
}

// RequireOwner rejects callers other than the platform owner.
func RequireOwner(owner domain.Address) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerAddress(r.Context())
			if !ok || caller != owner {
				writeError(w, http.StatusForbidden, domain.ErrNotOwner.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter counts requests per subject within a window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RateLimitMiddleware limits mutating requests per caller. Reads pass through. When the
// limiter itself fails the request is allowed.
func RateLimitMiddleware(limiter RateLimiter, perMinute int, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || perMinute <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			caller, ok := CallerAddress(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), "mutations", string(caller), perMinute, time.Minute)
			if err != nil {
				logger.Warn("rate limiter unavailable; allowing request", "caller", caller, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if count > perMinute {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "Too many requests. Please wait and try again.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
