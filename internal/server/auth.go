package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/agentrouter/internal/runtime"
)

const defaultTokenTTL = 12 * time.Hour

// AuthHandler exchanges the configured API key for a bearer token.
type AuthHandler struct {
	Secret     []byte
	APIKeyHash string
	TTL        time.Duration
}

func (a *AuthHandler) Register(g *echo.Group) {
	g.POST("/token", a.token)
}

// token
//
//	@Summary	Issue a bearer token
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		TokenRequest	true	"API key"
//	@Success	200		{object}	TokenResponse
//	@Failure	401		{object}	HTTPError
//	@Failure	404		{object}	HTTPError
//	@Router		/auth/token [post]
func (a *AuthHandler) token(c echo.Context) error {
	if len(a.Secret) == 0 || a.APIKeyHash == "" {
		return echo.NewHTTPError(http.StatusNotFound, "token auth not configured")
	}
	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := runtime.CheckAPIKey(a.APIKeyHash, req.APIKey); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	ttl := a.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	subject := req.Subject
	if subject == "" {
		subject = "api"
	}
	tok, err := runtime.SignJWT(subject, a.Secret, ttl, runtime.ScopeRunsRead, runtime.ScopeRunsWrite)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, TokenResponse{Token: tok, ExpiresIn: int64(ttl.Seconds())})
}
