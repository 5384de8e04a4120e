// Package health serves the liveness and configuration checks.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/zulfikarrosadi/opentrellis/internal/reqlog"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

const PING_TIMEOUT = 2 * time.Second

type pinger interface {
	PingContext(ctx context.Context) error
}

type ApiImpl struct {
	db     pinger
	checks func() map[string]any
	*slog.Logger
}

func NewApi(db pinger, checks func() map[string]any, logger *slog.Logger) *ApiImpl {
	return &ApiImpl{
		db:     db,
		checks: checks,
		Logger: logger,
	}
}

type livenessResponse struct {
	Database string `json:"database"`
}

// AuthConfig reports which required settings are present, never their values.
func (api *ApiImpl) AuthConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, schema.Response[map[string]any]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   api.checks(),
	})
}

func (api *ApiImpl) Liveness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(reqlog.Context(c), PING_TIMEOUT)
	defer cancel()
	if err := api.db.PingContext(ctx); err != nil {
		reqlog.Debug(api.Logger, ctx, c, http.StatusServiceUnavailable, err)
		return c.JSON(http.StatusServiceUnavailable, schema.Response[livenessResponse]{
			Status: schema.STATUS_FAIL,
			Code:   http.StatusServiceUnavailable,
			Data:   livenessResponse{Database: "unreachable"},
			Error:  schema.Error{Message: "database unreachable"},
		})
	}
	return c.JSON(http.StatusOK, schema.Response[livenessResponse]{
		Status: schema.STATUS_SUCCESS,
		Code:   http.StatusOK,
		Data:   livenessResponse{Database: "ok"},
	})
}
