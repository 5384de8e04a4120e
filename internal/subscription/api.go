package subscription

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/zulfikarrosadi/opentrellis/internal/auth"
	"github.com/zulfikarrosadi/opentrellis/internal/reqlog"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

const MAX_WEBHOOK_BODY = 64 << 10

type service interface {
	createCheckout(context.Context, string) (schema.Response[checkoutResponse], error)
	cancel(context.Context, string) (schema.Response[statusResponse], error)
	webhook(context.Context, []byte, string) (schema.Response[webhookResponse], error)
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

func (api *ApiImpl) CreateCheckout(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	response, err := api.service.createCheckout(ctx, claims.Id)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

func (api *ApiImpl) Cancel(c echo.Context) error {
	ctx := reqlog.Context(c)
	claims, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	response, err := api.service.cancel(ctx, claims.Id)
	return reqlog.Render(api.Logger, ctx, c, response, err)
}

// Webhook needs the raw body for signature verification, so it never binds.
func (api *ApiImpl) Webhook(c echo.Context) error {
	ctx := reqlog.Context(c)
	payload, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, MAX_WEBHOOK_BODY))
	if err != nil {
		return reqlog.BadRequest(api.Logger, ctx, c, err)
	}
	response, err := api.service.webhook(ctx, payload, c.Request().Header.Get("Stripe-Signature"))
	return reqlog.Render(api.Logger, ctx, c, response, err)
}
