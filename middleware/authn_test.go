package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.craftbench.dev/auth/domain"
)

type stubValidator struct {
	claims *domain.SessionClaims
	ok     bool
	err    error
}

func (s *stubValidator) ValidateAccessToken(_ context.Context, _ string) (*domain.SessionClaims, bool, error) {
	return s.claims, s.ok, s.err
}

func invoke(t *testing.T, validator TokenValidator, authHeader string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set(echo.HeaderAuthorization, authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := RequireSession(validator)(func(c echo.Context) error {
		claims := SessionClaims(c)
		require.NotNil(t, claims)
		return c.String(http.StatusOK, claims.UserID)
	})
	return rec, handler(c)
}

func TestRequireSessionAcceptsValidToken(t *testing.T) {
	validator := &stubValidator{claims: &domain.SessionClaims{UserID: "user-1"}, ok: true}

	rec, err := invoke(t, validator, "Bearer good-token")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", rec.Body.String())
}

func TestRequireSessionRejectsMissingHeader(t *testing.T) {
	_, err := invoke(t, &stubValidator{ok: true}, "")
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestRequireSessionRejectsNonBearer(t *testing.T) {
	_, err := invoke(t, &stubValidator{ok: true}, "Basic dXNlcjpwYXNz")
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestRequireSessionRejectsInvalidToken(t *testing.T) {
	_, err := invoke(t, &stubValidator{ok: false}, "Bearer revoked-token")
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}
