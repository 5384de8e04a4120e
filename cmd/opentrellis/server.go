package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogRequestID: true,
		LogMethod:    true,
		LogLatency:   true,
		LogURIPath:   true,
		LogUserAgent: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			requestDetails := slog.Group("request",
				slog.String("id", v.RequestID),
				slog.String("method", v.Method),
				slog.String("path", v.URIPath),
				slog.String("user_agent", v.UserAgent),
				slog.String("ip", v.RemoteIP),
			)

			if v.Error != nil {
				// 4xx are the caller's fault
				var httpError *echo.HTTPError
				if errors.As(v.Error, &httpError) && v.Status >= 400 && v.Status < 500 {
					logger.LogAttrs(c.Request().Context(), slog.LevelWarn, "REQUEST_ERROR",
						slog.Int("status", v.Status),
						slog.Int64("latency_ms", v.Latency.Milliseconds()),
						requestDetails,
						slog.String("error", fmt.Sprint(httpError.Message)),
					)
				} else {
					logger.LogAttrs(c.Request().Context(), slog.LevelError, "REQUEST_ERROR",
						slog.Int("status", v.Status),
						slog.Int64("latency_ms", v.Latency.Milliseconds()),
						requestDetails,
						slog.String("error", v.Error.Error()),
					)
				}
				return nil
			}
			logger.LogAttrs(c.Request().Context(), slog.LevelInfo, "REQUEST",
				slog.Int("status", v.Status),
				slog.Int64("latency_ms", v.Latency.Milliseconds()),
				requestDetails,
			)
			return nil
		},
	})
}

// errorHandler writes every unhandled error in the fail envelope.
func errorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		response := schema.Response[any]{
			Status: schema.STATUS_FAIL,
			Code:   http.StatusInternalServerError,
			Error:  schema.Error{Message: apperror.INTERNAL_ERROR},
		}
		var httpError *echo.HTTPError
		if errors.As(err, &httpError) {
			response.Code = httpError.Code
			response.Error.Message = fmt.Sprint(httpError.Message)
			if httpError.Code == http.StatusInternalServerError {
				response.Error.Message = apperror.INTERNAL_ERROR
			}
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(response.Code)
		} else {
			err = c.JSON(response.Code, response)
		}
		if err != nil {
			logger.Error("FAILED_TO_SEND_ERROR_RESPONSE", slog.String("error", err.Error()))
		}
	}
}
