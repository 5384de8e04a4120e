package admin

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/zulfikarrosadi/opentrellis/internal/auth"
	"github.com/zulfikarrosadi/opentrellis/internal/reqlog"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type service interface {
	listApplications(context.Context) (schema.Response[applicationsResponse], error)
	review(context.Context, reviewRequest) (schema.Response[reviewResponse], error)
	currentMentors(context.Context) (schema.Response[mentorsResponse], error)
	removeMentor(context.Context, string) (schema.Response[memberResponse], error)
	setRole(context.Context, updateRoleRequest) (schema.Response[memberResponse], error)
}

// ApiImpl handlers are mounted behind auth.RequireRole(ADMIN).
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

func (api *ApiImpl) ListApplications(c echo.Context) error {
	ctx := reqlog.Context(c)
	response, err := api.service.listApplications(ctx)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) Review(c echo.Context) error {
	ctx := reqlog.Context(c)
	request := reviewRequest{}
	if err := c.Bind(&request); err != nil {
		return reqlog.BadRequest(api.Logger, ctx, c, err)
	}
	request.applicationId = c.Param("applicationId")
	response, err := api.service.review(ctx, request)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) CurrentMentors(c echo.Context) error {
	ctx := reqlog.Context(c)
	response, err := api.service.currentMentors(ctx)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) RemoveMentor(c echo.Context) error {
	ctx := reqlog.Context(c)
	response, err := api.service.removeMentor(ctx, c.Param("userId"))
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) SetRole(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	request := updateRoleRequest{}
	if err := c.Bind(&request); err != nil {
		return reqlog.BadRequest(api.Logger, ctx, c, err)
	}
	request.adminId = claims.Id
	request.userId = c.Param("userId")
	response, err := api.service.setRole(ctx, request)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}
