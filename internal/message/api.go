package message

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/zulfikarrosadi/opentrellis/internal/auth"
	"github.com/zulfikarrosadi/opentrellis/internal/reqlog"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type service interface {
	send(context.Context, sendMessageRequest) (schema.Response[sendResponse], error)
	listThreads(context.Context, string) (schema.Response[threadsResponse], error)
	respond(context.Context, respondRequest) (schema.Response[respondResponse], error)
	delete(context.Context, string, string) (schema.Response[respondResponse], error)
	threadMessages(context.Context, string, string) (schema.Response[messagesResponse], error)
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

func (api *ApiImpl) Send(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	request := sendMessageRequest{}
	if err := c.Bind(&request); err != nil {
		return reqlog.BadRequest(api.Logger, ctx, c, err)
	}
	request.senderId = claims.Id
	response, err := api.service.send(ctx, request)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) ListThreads(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	response, err := api.service.listThreads(ctx, claims.Id)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) Respond(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	request := respondRequest{}
	if err := c.Bind(&request); err != nil {
		return reqlog.BadRequest(api.Logger, ctx, c, err)
	}
	request.userId = claims.Id
	request.otherUserId = c.Param("userId")
	response, err := api.service.respond(ctx, request)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) Delete(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	response, err := api.service.delete(ctx, claims.Id, c.Param("userId"))
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) ThreadMessages(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	response, err := api.service.threadMessages(ctx, claims.Id, c.Param("threadId"))
	return reqlog.Render(api.Logger, ctx, c, response, err)
}
