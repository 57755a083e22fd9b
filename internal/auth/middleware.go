package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const userIDKey = "uid"

// Middleware authenticates a request by its bearer access token and stores
// the caller's uid for GetUserID. Rejections are 401s in the API error
// envelope with code MISSING_TOKEN, TOKEN_EXPIRED or INVALID_TOKEN.
func (ts *TokenService) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c.Request())
			if !ok {
				return reject(c, "MISSING_TOKEN", "a bearer access token is required")
			}

			claims, err := ts.ValidateAccessToken(raw)
			switch {
			case errors.Is(err, jwt.ErrTokenExpired):
				return reject(c, "TOKEN_EXPIRED", "access token has expired")
			case err != nil:
				log.Debug().Err(err).Str("path", c.Path()).Msg("rejected access token")
				return reject(c, "INVALID_TOKEN", "access token is invalid")
			}

			SetUserID(c, claims.UserID)
			return next(c)
		}
	}
}

// bearerToken reads "Authorization: Bearer <token>". The scheme is matched
// case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func reject(c echo.Context, code, message string) error {
	return c.JSON(http.StatusUnauthorized, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// SetUserID records the authenticated uid on c.
func SetUserID(c echo.Context, uid string) { c.Set(userIDKey, uid) }

// GetUserID returns the authenticated uid, or "" on routes without the
// middleware.
func GetUserID(c echo.Context) string {
	uid, _ := c.Get(userIDKey).(string)
	return uid
}
