// Package middleware provides the echo middleware that authenticates
// requests with a bearer access token.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"go.craftbench.dev/auth/domain"
)

// claimsContextKey is where the validated session claims live on the
// echo context.
const claimsContextKey = "auth.session_claims"

// TokenValidator is the slice of the token service this middleware
// needs.
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, tokenValue string) (*domain.SessionClaims, bool, error)
}

// RequireSession returns middleware that rejects requests without a
// valid bearer access token and stores the session claims on the
// context for handlers.
func RequireSession(tokens TokenValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "authorization header must be a bearer token")
			}

			claims, ok, err := tokens.ValidateAccessToken(c.Request().Context(), parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "token validation failed")
			}
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "token is invalid, expired, or revoked")
			}

			c.Set(claimsContextKey, claims)
			return next(c)
		}
	}
}

// SessionClaims returns the claims stored by RequireSession, or nil if
// the request was not authenticated.
func SessionClaims(c echo.Context) *domain.SessionClaims {
	claims, _ := c.Get(claimsContextKey).(*domain.SessionClaims)
	return claims
}
