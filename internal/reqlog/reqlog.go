// Package reqlog carries the request id into handler contexts and writes the
// REQUEST_DEBUG lines every handler emits on failure.
package reqlog

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type REQUEST_ID string

var (
	REQUEST_ID_KEY REQUEST_ID = "REQUEST_ID"
)

func Context(c echo.Context) context.Context {
	return context.WithValue(
		c.Request().Context(),
		REQUEST_ID_KEY,
		c.Response().Header().Get(echo.HeaderXRequestID),
	)
}

func RequestId(ctx context.Context) string {
	id, _ := ctx.Value(REQUEST_ID_KEY).(string)
	return id
}

func Debug(logger *slog.Logger, ctx context.Context, c echo.Context, status int, err error) {
	logger.LogAttrs(ctx, slog.LevelDebug, "REQUEST_DEBUG",
		slog.Int("status", status),
		slog.Group("request",
			slog.String("id", RequestId(ctx)),
			slog.String("method", c.Request().Method),
			slog.String("path", c.Request().URL.Path),
			slog.String("user_agent", c.Request().UserAgent()),
			slog.String("ip", c.RealIP()),
		),
		slog.String("error", err.Error()),
		slog.String("trace", string(debug.Stack())),
	)
}

// BadRequest logs a bind failure and returns the generic 400.
func BadRequest(logger *slog.Logger, ctx context.Context, c echo.Context, err error) error {
	Debug(logger, ctx, c, http.StatusBadRequest, err)
	return echo.NewHTTPError(
		http.StatusBadRequest,
		"fail to process your request, send correct data and try again",
	)
}

// Render writes a service result. Validation failures are sent with their
// field details, other failures go through the echo error handler.
func Render[T any](
	logger *slog.Logger,
	ctx context.Context,
	c echo.Context,
	response schema.Response[T],
	err error,
) error {
	if err != nil {
		code := response.Code
		if code == 0 {
			code = http.StatusInternalServerError
			response.Error.Message = apperror.INTERNAL_ERROR
		}
		Debug(logger, ctx, c, code, err)
		if response.Error.Message == apperror.VALIDATION_ERROR {
			if err := c.JSON(code, response); err != nil {
				Debug(logger, ctx, c, http.StatusInternalServerError, err)
				return echo.NewHTTPError(http.StatusInternalServerError, apperror.INTERNAL_ERROR)
			}
			return nil
		}
		return echo.NewHTTPError(code, response.Error.Message)
	}
	if response.Code == http.StatusNoContent {
		return c.NoContent(http.StatusNoContent)
	}
	if err := c.JSON(response.Code, response); err != nil {
		Debug(logger, ctx, c, response.Code, err)
		return echo.NewHTTPError(http.StatusInternalServerError, apperror.INTERNAL_ERROR)
	}
	return nil
}
