package comment

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/zulfikarrosadi/opentrellis/internal/auth"
	"github.com/zulfikarrosadi/opentrellis/internal/reqlog"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type service interface {
	create(context.Context, createCommentRequest) (schema.Response[commentResponse], error)
	listTopLevel(context.Context, string, string) (schema.Response[commentsResponse], error)
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

func (api *ApiImpl) Create(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	request := createCommentRequest{}
	if err := c.Bind(&request); err != nil {
		return reqlog.BadRequest(api.Logger, ctx, c, err)
	}
	request.authorId = claims.Id
	request.postId = c.Param("postId")
	response, err := api.service.create(ctx, request)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) ListTopLevel(c echo.Context) error {
	ctx := reqlog.Context(c)
	response, err := api.service.listTopLevel(ctx, c.Param("postId"), auth.ViewerId(c))
	return reqlog.Render(api.Logger, ctx, c, response, err)
}
