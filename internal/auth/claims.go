package auth

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomJWTClaims struct {
	Id       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	UserType string `json:"user_type"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

const ACCESS_TOKEN_TTL = time.Minute * 5

func newAccessToken(secret []byte, a account) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, CustomJWTClaims{
		Id:       a.id,
		Email:    a.email,
		Username: a.username.String,
		UserType: a.userType,
		Role:     a.role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ACCESS_TOKEN_TTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	},
	).SignedString(secret)
}

// GetUserFromContext returns the claims of a verified access token, or false for
// anonymous requests on public routes.
func GetUserFromContext(c echo.Context) (*CustomJWTClaims, bool) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil {
		return nil, false
	}
	claims, ok := token.Claims.(*CustomJWTClaims)
	if !ok || claims.Id == "" {
		return nil, false
	}
	return claims, true
}

func RequireUser(c echo.Context) (*CustomJWTClaims, error) {
	claims, ok := GetUserFromContext(c)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Please use correct user credential and try again later")
	}
	return claims, nil
}

// ViewerId is empty for anonymous requests.
func ViewerId(c echo.Context) string {
	claims, ok := GetUserFromContext(c)
	if !ok {
		return ""
	}
	return claims.Id
}

func RequireRole(allowed ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := GetUserFromContext(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or missing access token")
			}
			if !slices.Contains(allowed, claims.Role) {
				return echo.NewHTTPError(http.StatusForbidden, "you don't have permission to do this operation")
			}
			return next(c)
		}
	}
}

// PublicPaths lists the routes reachable without a valid access token. Open
// paths never read a token. Optional paths read one when it verifies and
// otherwise continue as anonymous, so a stale token never blocks them.
type PublicPaths struct {
	Open     []string
	Optional []string
}

func Skipper(paths PublicPaths) middleware.Skipper {
	return func(c echo.Context) bool {
		return slices.Contains(paths.Open, c.Path())
	}
}

func JWTConfig(secret []byte, paths PublicPaths) echojwt.Config {
	return echojwt.Config{
		SigningKey:             secret,
		SigningMethod:          echojwt.AlgorithmHS256,
		Skipper:                Skipper(paths),
		ContinueOnIgnoredError: true,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return &CustomJWTClaims{}
		},
		ErrorHandler: func(c echo.Context, err error) error {
			if slices.Contains(paths.Optional, c.Path()) {
				return nil
			}
			if errors.Is(err, jwt.ErrTokenExpired) {
				return echo.NewHTTPError(http.StatusUnauthorized, "Access token expired")
			} else if errors.Is(err, jwt.ErrTokenMalformed) {
				return echo.NewHTTPError(http.StatusBadRequest, "Malformed access token")
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or missing access token")
		},
	}
}
