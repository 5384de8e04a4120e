package mentor

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/zulfikarrosadi/opentrellis/internal/auth"
	"github.com/zulfikarrosadi/opentrellis/internal/reqlog"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type service interface {
	apply(context.Context, applyRequest) (schema.Response[applyResponse], error)
	directory(context.Context, string) (schema.Response[directoryResponse], error)
	profile(context.Context, string) (schema.Response[mentorResponse], error)
	upsertProfile(context.Context, upsertProfileRequest) (schema.Response[mentorResponse], error)
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

func (api *ApiImpl) Apply(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	request := applyRequest{}
	if err := c.Bind(&request); err != nil {
		return reqlog.BadRequest(api.Logger, ctx, c, err)
	}
	request.userId = claims.Id
	response, err := api.service.apply(ctx, request)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) Directory(c echo.Context) error {
	ctx := reqlog.Context(c)
	response, err := api.service.directory(ctx, c.QueryParam("q"))
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) Profile(c echo.Context) error {
	ctx := reqlog.Context(c)
	response, err := api.service.profile(ctx, c.Param("userId"))
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) UpsertProfile(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	request := upsertProfileRequest{}
	if err := c.Bind(&request); err != nil {
		return reqlog.BadRequest(api.Logger, ctx, c, err)
	}
	request.userId = claims.Id
	response, err := api.service.upsertProfile(ctx, request)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}
