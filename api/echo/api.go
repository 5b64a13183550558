// Package echo exposes the credential service over HTTP. Handlers are
// thin: they translate JSON to service calls and sentinel errors to
// status codes; no protocol logic lives here.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"go.craftbench.dev/auth/errors"
	"go.craftbench.dev/auth/internal/federation"
	"go.craftbench.dev/auth/middleware"
	"go.craftbench.dev/auth/services"
)

// AuthAPI holds the service dependencies for the HTTP surface.
type AuthAPI struct {
	login     *services.LoginService
	tokens    *services.TokenService
	twoFactor *services.TwoFactorService
	passkeys  *services.PasskeyService
	sso       *services.SSOService
	users     *services.UserService
}

// NewAuthAPI initializes the HTTP API.
func NewAuthAPI(
	login *services.LoginService,
	tokens *services.TokenService,
	twoFactor *services.TwoFactorService,
	passkeys *services.PasskeyService,
	sso *services.SSOService,
	users *services.UserService,
) *AuthAPI {
	return &AuthAPI{
		login:     login,
		tokens:    tokens,
		twoFactor: twoFactor,
		passkeys:  passkeys,
		sso:       sso,
		users:     users,
	}
}

// RegisterRoutes registers all routes on the echo instance.
func (a *AuthAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", a.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/auth/register", a.RegisterHandler)
	e.POST("/auth/login", a.LoginHandler)
	e.POST("/auth/2fa/complete", a.CompleteSecondFactorHandler)
	e.POST("/auth/2fa/recovery", a.RecoveryCodeLoginHandler)
	e.POST("/auth/refresh", a.RefreshHandler)
	e.POST("/auth/logout", a.LogoutHandler)
	e.POST("/auth/passkeys/login/begin", a.BeginPasskeyLoginHandler)

	authed := e.Group("/auth", middleware.RequireSession(a.tokens))
	authed.GET("/session", a.SessionHandler)
	authed.POST("/password", a.ChangePasswordHandler)

	authed.POST("/2fa/enroll", a.BeginEnrollmentHandler)
	authed.POST("/2fa/confirm", a.ConfirmEnrollmentHandler)
	authed.POST("/2fa/recovery-codes", a.RegenerateRecoveryCodesHandler)
	authed.DELETE("/2fa", a.DisableTwoFactorHandler)

	authed.POST("/passkeys/register/begin", a.BeginPasskeyRegistrationHandler)
	authed.POST("/passkeys/register/finish", a.FinishPasskeyRegistrationHandler)
	authed.GET("/passkeys", a.ListPasskeysHandler)
	authed.DELETE("/passkeys/:credentialID", a.DeletePasskeyHandler)

	e.GET("/auth/sso/providers", a.ListProvidersHandler)
	authed.GET("/sso/bindings", a.ListBindingsHandler)
	authed.POST("/sso/bindings", a.AddBindingHandler)
	authed.DELETE("/sso/bindings/:provider", a.DeleteBindingHandler)
}

// HealthHandler reports liveness.
func (a *AuthAPI) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterHandler creates a new account.
func (a *AuthAPI) RegisterHandler(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Username == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username is required")
	}

	user, err := a.users.Register(c.Request().Context(), req.Username, req.Email, req.Password)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{
		"id":       user.ID,
		"username": user.Username,
	})
}

type loginRequest struct {
	Method string `json:"method"` // "password", "sso", or "passkey"

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	Provider string `json:"provider,omitempty"`
	Code     string `json:"code,omitempty"`

	Assertion *services.AssertionResponse `json:"assertion,omitempty"`
}

// LoginHandler runs a first factor. The response is either a full
// session or a pending token when a second factor is required.
func (a *AuthAPI) LoginHandler(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	var attempt services.LoginAttempt
	switch req.Method {
	case "password":
		attempt = services.PasswordAttempt{Username: req.Username, Password: req.Password}
	case "sso":
		attempt = services.SSOAttempt{Provider: req.Provider, Code: req.Code}
	case "passkey":
		if req.Assertion == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "assertion is required")
		}
		attempt = services.PasskeyAttempt{Assertion: req.Assertion}
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown login method")
	}

	result, err := a.login.Login(c.Request().Context(), attempt)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

type secondFactorRequest struct {
	PendingToken string `json:"pending_token"`
	Code         string `json:"code"`
}

// CompleteSecondFactorHandler finishes a gated login with a TOTP code.
func (a *AuthAPI) CompleteSecondFactorHandler(c echo.Context) error {
	var req secondFactorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	pair, err := a.twoFactor.CompleteLogin(c.Request().Context(), req.PendingToken, req.Code)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, pair)
}

// RecoveryCodeLoginHandler finishes a gated login with a recovery code.
// The response includes how many codes remain so the client can warn
// the user.
func (a *AuthAPI) RecoveryCodeLoginHandler(c echo.Context) error {
	var req secondFactorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	pair, remaining, err := a.twoFactor.CompleteLoginWithRecoveryCode(c.Request().Context(), req.PendingToken, req.Code)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session":                  pair,
		"recovery_codes_remaining": remaining,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshHandler exchanges a refresh token for a fresh access token.
func (a *AuthAPI) RefreshHandler(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	pair, valid, err := a.tokens.RotateAccessToken(c.Request().Context(), req.RefreshToken)
	if err != nil {
		log.Error().Err(err).Msg("token rotation failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "token rotation failed")
	}
	if !valid {
		return echo.NewHTTPError(http.StatusUnauthorized, "refresh token is invalid, expired, or revoked")
	}
	return c.JSON(http.StatusOK, pair)
}

type logoutRequest struct {
	AccessToken string `json:"access_token"`
}

// LogoutHandler revokes the lineage of the presented access token. The
// token may already be expired; only its signature must verify.
func (a *AuthAPI) LogoutHandler(c echo.Context) error {
	var req logoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	ok, err := a.tokens.RevokeLineage(c.Request().Context(), req.AccessToken)
	if err != nil {
		log.Error().Err(err).Msg("lineage revocation failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "logout failed")
	}
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "token is not recognized")
	}
	return c.NoContent(http.StatusNoContent)
}

// SessionHandler returns the claims of the authenticated session,
// doubling as the validation endpoint for other services.
func (a *AuthAPI) SessionHandler(c echo.Context) error {
	claims := middleware.SessionClaims(c)
	return c.JSON(http.StatusOK, map[string]any{
		"user_id":    claims.UserID,
		"roles":      claims.Roles,
		"expires_at": claims.ExpiresAt,
	})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePasswordHandler replaces the account password and revokes all
// sessions, including the one making this request.
func (a *AuthAPI) ChangePasswordHandler(c echo.Context) error {
	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.NewPassword == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "new password is required")
	}

	claims := middleware.SessionClaims(c)
	if err := a.users.ChangePassword(c.Request().Context(), claims.UserID, req.OldPassword, req.NewPassword); err != nil {
		return mapServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// BeginEnrollmentHandler starts TOTP enrollment.
func (a *AuthAPI) BeginEnrollmentHandler(c echo.Context) error {
	claims := middleware.SessionClaims(c)
	enrollment, err := a.twoFactor.BeginEnrollment(c.Request().Context(), claims.UserID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, enrollment)
}

type confirmEnrollmentRequest struct {
	Code string `json:"code"`
}

// ConfirmEnrollmentHandler verifies the first TOTP code and returns the
// one-time view of the recovery codes.
func (a *AuthAPI) ConfirmEnrollmentHandler(c echo.Context) error {
	var req confirmEnrollmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	claims := middleware.SessionClaims(c)
	codes, err := a.twoFactor.ConfirmEnrollment(c.Request().Context(), claims.UserID, req.Code)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"recovery_codes": codes})
}

// RegenerateRecoveryCodesHandler replaces the remaining recovery codes
// with a fresh batch.
func (a *AuthAPI) RegenerateRecoveryCodesHandler(c echo.Context) error {
	claims := middleware.SessionClaims(c)
	codes, err := a.twoFactor.RegenerateRecoveryCodes(c.Request().Context(), claims.UserID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"recovery_codes": codes})
}

// DisableTwoFactorHandler removes the secret and all recovery codes.
func (a *AuthAPI) DisableTwoFactorHandler(c echo.Context) error {
	claims := middleware.SessionClaims(c)
	if err := a.twoFactor.Delete(c.Request().Context(), claims.UserID); err != nil {
		return mapServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// BeginPasskeyRegistrationHandler issues a registration challenge.
func (a *AuthAPI) BeginPasskeyRegistrationHandler(c echo.Context) error {
	claims := middleware.SessionClaims(c)
	challenge, err := a.passkeys.BeginRegistration(c.Request().Context(), claims.UserID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, challenge)
}

// FinishPasskeyRegistrationHandler completes a registration ceremony.
func (a *AuthAPI) FinishPasskeyRegistrationHandler(c echo.Context) error {
	var req services.AttestationResponse
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Challenge == "" || len(req.Signature) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "challenge and signature are required")
	}

	claims := middleware.SessionClaims(c)
	info, err := a.passkeys.FinishRegistration(c.Request().Context(), claims.UserID, &req)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, info)
}

// BeginPasskeyLoginHandler issues a user-agnostic authentication
// challenge. The finish half is the passkey method on /auth/login.
func (a *AuthAPI) BeginPasskeyLoginHandler(c echo.Context) error {
	challenge, err := a.passkeys.BeginAuthentication(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"challenge": challenge})
}

// ListPasskeysHandler lists the caller's registered passkeys.
func (a *AuthAPI) ListPasskeysHandler(c echo.Context) error {
	claims := middleware.SessionClaims(c)
	infos, err := a.passkeys.ListCredentials(c.Request().Context(), claims.UserID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, infos)
}

// DeletePasskeyHandler removes one of the caller's passkeys.
func (a *AuthAPI) DeletePasskeyHandler(c echo.Context) error {
	claims := middleware.SessionClaims(c)
	err := a.passkeys.DeleteCredential(c.Request().Context(), claims.UserID, c.Param("credentialID"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListProvidersHandler lists the configured identity providers.
func (a *AuthAPI) ListProvidersHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"providers": a.sso.Providers()})
}

// ListBindingsHandler lists the caller's SSO bindings.
func (a *AuthAPI) ListBindingsHandler(c echo.Context) error {
	claims := middleware.SessionClaims(c)
	bindings, err := a.sso.ListBindings(c.Request().Context(), claims.UserID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, bindings)
}

type addBindingRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

// AddBindingHandler links an external identity to the caller's account.
func (a *AuthAPI) AddBindingHandler(c echo.Context) error {
	var req addBindingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	claims := middleware.SessionClaims(c)
	binding, err := a.sso.AddBinding(c.Request().Context(), claims.UserID, req.Provider, req.Code)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, binding)
}

// DeleteBindingHandler unlinks a provider from the caller's account.
func (a *AuthAPI) DeleteBindingHandler(c echo.Context) error {
	claims := middleware.SessionClaims(c)
	if err := a.sso.DeleteBinding(c.Request().Context(), claims.UserID, c.Param("provider")); err != nil {
		return mapServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// mapServiceError translates sentinel errors into HTTP responses.
// Authentication failures all map to 401 with the same generic body.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, errors.ErrInvalidCredentials),
		errors.Is(err, errors.ErrInvalidPendingToken),
		errors.Is(err, errors.ErrInvalidTwoFactorCode),
		errors.Is(err, errors.ErrInvalidRecoveryCode),
		errors.Is(err, errors.ErrChallengeNotFound),
		errors.Is(err, errors.ErrInvalidAssertion):
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")
	case errors.Is(err, errors.ErrCounterRegression):
		// Deliberately distinct: this points at a cloned authenticator.
		return echo.NewHTTPError(http.StatusUnauthorized, "authenticator counter regression detected")
	case errors.Is(err, errors.ErrRecoveryCodesExhausted):
		return echo.NewHTTPError(http.StatusForbidden, "all recovery codes have been used, re-enroll two-factor authentication")
	case errors.Is(err, errors.ErrAccountLocked):
		return echo.NewHTTPError(http.StatusForbidden, "account is locked")
	case errors.Is(err, errors.ErrLastLoginMethod):
		return echo.NewHTTPError(http.StatusConflict, "cannot remove the last login method")
	case errors.Is(err, errors.ErrUserExists),
		errors.Is(err, errors.ErrBindingExists),
		errors.Is(err, errors.ErrCredentialExists),
		errors.Is(err, errors.ErrTwoFactorAlreadyEnabled):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, errors.ErrUserNotFound),
		errors.Is(err, errors.ErrBindingNotFound),
		errors.Is(err, errors.ErrCredentialNotFound),
		errors.Is(err, errors.ErrTwoFactorNotEnabled),
		errors.Is(err, errors.ErrTwoFactorNotPending):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, federation.ErrProviderNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, federation.ErrExchangeCodeFailed),
		errors.Is(err, federation.ErrFetchIdentityFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		log.Error().Err(err).Str("path", c.Path()).Msg("internal error")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
