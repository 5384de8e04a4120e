package post

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/zulfikarrosadi/opentrellis/internal/auth"
	"github.com/zulfikarrosadi/opentrellis/internal/community"
	"github.com/zulfikarrosadi/opentrellis/internal/reqlog"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type service interface {
	createForumPost(context.Context, createPostRequest) (schema.Response[postResponse], error)
	get(context.Context, string, string, int) (schema.Response[postResponse], error)
	feed(context.Context, string, schema.Page) (schema.Response[feedResponse], error)
	vote(context.Context, voteRequest) (schema.Response[voteResponse], error)
	solve(context.Context, solveRequest) (schema.Response[postResponse], error)
	unsolve(context.Context, string, string) (schema.Response[postResponse], error)
	takeDown(context.Context, string) (schema.Response[voteResponse], error)
	leaderboard(context.Context) (schema.Response[leaderboardResponse], error)
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
	newPost := createPostRequest{}
	if err := c.Bind(&newPost); err != nil {
		return reqlog.BadRequest(api.Logger, ctx, c, err)
	}
	newPost.authorId = claims.Id
	response, err := api.service.createForumPost(ctx, newPost)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) Get(c echo.Context) error {
	ctx := reqlog.Context(c)
	response, err := api.service.get(ctx, c.Param("postId"), auth.ViewerId(c), http.StatusOK)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) Feed(c echo.Context) error {
	ctx := reqlog.Context(c)
	response, err := api.service.feed(ctx, auth.ViewerId(c), community.PageFromQuery(c))
	return reqlog.Render(api.Logger, ctx, c, response, err)
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
	request.userId = claims.Id
	request.postId = c.Param("postId")
	response, err := api.service.vote(ctx, request)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) Solve(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	request := solveRequest{}
	if err := c.Bind(&request); err != nil {
		return reqlog.BadRequest(api.Logger, ctx, c, err)
	}
	request.userId = claims.Id
	request.postId = c.Param("postId")
	response, err := api.service.solve(ctx, request)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) Unsolve(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	response, err := api.service.unsolve(ctx, c.Param("postId"), claims.Id)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

// TakeDown is mounted behind auth.RequireRole(ADMIN, MODERATOR).
func (api *ApiImpl) TakeDown(c echo.Context) error {
	ctx := reqlog.Context(c)
	response, err := api.service.takeDown(ctx, c.Param("postId"))
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) Leaderboard(c echo.Context) error {
	ctx := reqlog.Context(c)
	response, err := api.service.leaderboard(ctx)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}
