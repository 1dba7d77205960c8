package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"net/http" // HTTP status codes for responses
	"strings"  // string utilities for prefix checking and trimming

	"github.com/golang-jwt/jwt/v5" // JWT library for parsing and validating tokens
	"github.com/labstack/echo/v4"  // Echo framework used for defining middleware and handlers
	"golang.org/x/crypto/bcrypt"   // bcrypt compares the raw shared secret against its stored hash
)

// CronAuth returns an Echo middleware protecting the dispatch trigger
// endpoint.  The external timer authenticates with a Bearer token,
// which may be either:
//
//   - an HS256 JWT signed with jwtSecret (the normal path for a
//     managed cron service that can mint short-lived tokens), or
//   - the raw shared secret itself, verified against the bcrypt hash
//     in secretHash (for dumb timers that can only send a static
//     header).
//
// Either mechanism alone is sufficient; pass "" for the one not in
// use.  Requests without a valid credential get 401 and the dispatch
// cycle never starts.
func CronAuth(jwtSecret, secretHash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			if jwtSecret != "" && validCronJWT(raw, jwtSecret) {
				return next(c)
			}
			if secretHash != "" &&
				bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(raw)) == nil {
				return next(c)
			}
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}
	}
}

// validCronJWT parses the token using the HS256 signing method and
// the shared secret.  The callback supplies the signing key and
// rejects any other algorithm.
func validCronJWT(raw, secret string) bool {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, echo.ErrUnauthorized
		}
		return []byte(secret), nil
	})
	return err == nil && tok.Valid
}
