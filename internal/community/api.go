package community

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/zulfikarrosadi/opentrellis/internal/auth"
	"github.com/zulfikarrosadi/opentrellis/internal/reqlog"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type service interface {
	create(context.Context, createCommunityRequest) (schema.Response[communityResponse], error)
	setPrivacy(context.Context, setPrivacyRequest) (schema.Response[communityResponse], error)
	search(context.Context, string, string) (schema.Response[communitiesResponse], error)
	get(context.Context, string, string, schema.Page) (schema.Response[communityPageResponse], error)
	subscribe(context.Context, string, string) (schema.Response[subscriptionResponse], error)
	unsubscribe(context.Context, string, string) (schema.Response[subscriptionResponse], error)
	ensureDefaultSubscription(context.Context, string) (schema.Response[subscriptionResponse], error)
	uploadIcon(context.Context, uploadIconRequest) (schema.Response[communityResponse], error)
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

// PageFromQuery reads ?page= and ?limit=, falling back to the defaults.
func PageFromQuery(c echo.Context) schema.Page {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	return schema.NewPage(page, limit)
}

func (api *ApiImpl) Create(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	request := createCommunityRequest{}
	if err := c.Bind(&request); err != nil {
		return reqlog.BadRequest(api.Logger, ctx, c, err)
	}
	request.userId = claims.Id
	response, err := api.service.create(ctx, request)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) SetPrivacy(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	request := setPrivacyRequest{}
	if err := c.Bind(&request); err != nil {
		return reqlog.BadRequest(api.Logger, ctx, c, err)
	}
	request.userId = claims.Id
	request.communityId = c.Param("communityId")
	response, err := api.service.setPrivacy(ctx, request)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) Search(c echo.Context) error {
	ctx := reqlog.Context(c)
	response, err := api.service.search(ctx, c.QueryParam("q"), auth.ViewerId(c))
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) Get(c echo.Context) error {
	ctx := reqlog.Context(c)
	response, err := api.service.get(ctx, c.Param("name"), auth.ViewerId(c), PageFromQuery(c))
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) Subscribe(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	response, err := api.service.subscribe(ctx, claims.Id, c.Param("communityId"))
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) Unsubscribe(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	response, err := api.service.unsubscribe(ctx, claims.Id, c.Param("communityId"))
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) EnsureDefaultSubscription(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	response, err := api.service.ensureDefaultSubscription(ctx, claims.Id)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) UploadIcon(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	icon, err := c.FormFile("icon")
	if err != nil {
		reqlog.Debug(api.Logger, ctx, c, http.StatusBadRequest, err)
		return echo.NewHTTPError(http.StatusBadRequest, "fail to process your request, failed to open icon file")
	}
	response, err := api.service.uploadIcon(ctx, uploadIconRequest{
		userId:      claims.Id,
		communityId: c.Param("communityId"),
		icon:        icon,
	})
	return reqlog.Render(api.Logger, ctx, c, response, err)
}
