package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/zulfikarrosadi/opentrellis/internal/reqlog"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type Service interface {
	register(context.Context, registrationRequest) (schema.Response[authResponse], error)
	login(context.Context, loginRequest) (schema.Response[authResponse], error)
	refreshToken(context.Context, string) (schema.Response[authResponse], error)
	signout(context.Context, string) (schema.Response[any], error)
}

type ApiHandler struct {
	*slog.Logger
	Service
	secureCookie bool
}

func NewApiHandler(logger *slog.Logger, service Service, secureCookie bool) *ApiHandler {
	return &ApiHandler{
		Logger:       logger,
		Service:      service,
		secureCookie: secureCookie,
	}
}

const (
	WEEK_IN_SECOND     = 604_800
	REFRESH_TOKEN_NAME = "refresh_token"
	REFRESH_TOKEN_PATH = "/api/v1/refresh"
)

func (api *ApiHandler) setRefreshCookie(c echo.Context, value string, maxAge int) {
	c.SetCookie(&http.Cookie{
		Name:     REFRESH_TOKEN_NAME,
		Value:    value,
		Secure:   api.secureCookie,
		MaxAge:   maxAge,
		Path:     REFRESH_TOKEN_PATH,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (api *ApiHandler) RefreshToken(c echo.Context) error {
	ctx := reqlog.Context(c)
	refreshToken, err := c.Request().Cookie(REFRESH_TOKEN_NAME)
	if err != nil {
		reqlog.Debug(api.Logger, ctx, c, http.StatusUnauthorized, err)
		return echo.NewHTTPError(http.StatusUnauthorized, "something went wrong, refresh token extraction from cookie fails")
	}
	response, err := api.refreshToken(ctx, refreshToken.Value)
	if err != nil {
		return reqlog.Render(api.Logger, ctx, c, response, err)
	}
	api.setRefreshCookie(c, response.Data.RefreshToken, WEEK_IN_SECOND)
	return reqlog.Render(api.Logger, ctx, c, response, nil)
}

func (api *ApiHandler) Login(c echo.Context) error {
	ctx := reqlog.Context(c)
	credential := new(loginRequest)
	if err := c.Bind(credential); err != nil {
		return reqlog.BadRequest(api.Logger, ctx, c, err)
	}
	credential.authentication = authentication{
		lastLogin: time.Now().Unix(),
		remoteIP:  c.RealIP(),
		agent:     c.Request().UserAgent(),
	}
	response, err := api.Service.login(ctx, *credential)
	if err != nil {
		return reqlog.Render(api.Logger, ctx, c, response, err)
	}
	api.setRefreshCookie(c, response.Data.RefreshToken, WEEK_IN_SECOND)
	return reqlog.Render(api.Logger, ctx, c, response, nil)
}

func (api *ApiHandler) Register(c echo.Context) error {
	ctx := reqlog.Context(c)
	newUser := new(registrationRequest)
	if err := c.Bind(newUser); err != nil {
		return reqlog.BadRequest(api.Logger, ctx, c, err)
	}
	newUser.Agent = c.Request().UserAgent()
	newUser.RemoteIp = c.RealIP()
	response, err := api.Service.register(ctx, *newUser)
	if err != nil {
		return reqlog.Render(api.Logger, ctx, c, response, err)
	}
	api.setRefreshCookie(c, response.Data.RefreshToken, WEEK_IN_SECOND)
	return reqlog.Render(api.Logger, ctx, c, response, nil)
}

func (api *ApiHandler) Signout(c echo.Context) error {
	ctx := reqlog.Context(c)
	refreshToken, err := c.Request().Cookie(REFRESH_TOKEN_NAME)
	if err != nil {
		return c.NoContent(http.StatusNoContent)
	}
	response, err := api.signout(ctx, refreshToken.Value)
	if err != nil {
		return reqlog.Render(api.Logger, ctx, c, response, err)
	}
	api.setRefreshCookie(c, "", -1)
	return reqlog.Render(api.Logger, ctx, c, response, nil)
}
