package poll

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/zulfikarrosadi/opentrellis/internal/auth"
	"github.com/zulfikarrosadi/opentrellis/internal/reqlog"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type service interface {
	vote(context.Context, voteRequest) (schema.Response[resultsResponse], error)
	results(context.Context, string, string) (schema.Response[resultsResponse], error)
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

func (api *ApiImpl) Vote(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	request := voteRequest{}
	if err := c.Bind(&request); err != nil {
		return reqlog.BadRequest(api.Logger, ctx, c, err)
	}
	request.voterId = claims.Id
	request.pollId = c.Param("pollId")
	response, err := api.service.vote(ctx, request)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) Results(c echo.Context) error {
	ctx := reqlog.Context(c)
	response, err := api.service.results(ctx, c.Param("pollId"), auth.ViewerId(c))
	return reqlog.Render(api.Logger, ctx, c, response, err)
}
