package user

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/zulfikarrosadi/opentrellis/internal/auth"
	"github.com/zulfikarrosadi/opentrellis/internal/reqlog"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type service interface {
	getPublic(context.Context, string) (schema.Response[userResponse], error)
	updateAccount(context.Context, updateAccountRequest) (schema.Response[userResponse], error)
	mentorAttempts(context.Context, string) (schema.Response[mentorAttemptsResponse], error)
	mentorStatus(context.Context, string) (schema.Response[mentorStatusResponse], error)
}

type ApiImpl struct {
	service
	*slog.Logger
}

func NewApi(service service, logger *slog.Logger) *ApiImpl {
	return &ApiImpl{
		service: service,
		Logger:  logger,
	}
}

func (api *ApiImpl) GetPublic(c echo.Context) error {
	ctx := reqlog.Context(c)
	response, err := api.service.getPublic(ctx, c.Param("userId"))
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) UpdateAccount(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	request := updateAccountRequest{}
	if err := c.Bind(&request); err != nil {
		return reqlog.BadRequest(api.Logger, ctx, c, err)
	}
	request.userId = claims.Id
	response, err := api.service.updateAccount(ctx, request)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) MentorAttempts(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	response, err := api.service.mentorAttempts(ctx, claims.Id)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) MentorStatus(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	response, err := api.service.mentorStatus(ctx, claims.Id)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}
