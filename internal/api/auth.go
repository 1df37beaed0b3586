package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// sessionTokenTTL bounds how long a token issued by the login handler is
// valid. Short-lived by design: the holder has to keep proving possession
// of the KilnSettings API token, not just the session token, to stay
// logged in across a long firing.
const sessionTokenTTL = 12 * time.Hour

// sessionClaims is the payload of a kilnd session JWT. There is no
// per-user identity here (spec.md's auth model is a single shared API
// token, not multi-user accounts, unlike EdgxCloud-EdgeFlow's
// middleware/auth.go Claims{UserID, Username, Roles}) so the only claim
// that matters is the expiry itself.
type sessionClaims struct {
	jwt.RegisteredClaims
}

// issueSessionToken signs a new short-lived session JWT with secret.
func issueSessionToken(secret string) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "kilnd",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// loginHandler exchanges the static KilnSettings API token for a
// short-lived session JWT. This is the only endpoint that ever sees the
// long-lived API token over HTTP; every other protected route accepts
// only the session JWT (grounded on the teacher's JWTMiddleware shape in
// middleware/auth.go, with GenerateToken/ValidateToken's multi-user
// claims dropped since there is no user table to look them up in).
func loginHandler(svc *Service, jwtSecret string) fiber.Handler {
	type request struct {
		Token string `json:"token"`
	}
	type response struct {
		SessionToken string `json:"session_token"`
		ExpiresIn    int    `json:"expires_in_seconds"`
	}

	return func(c *fiber.Ctx) error {
		var req request
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		ok, err := svc.AuthorizeBearer(req.Token)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "authorization check failed")
		}
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid api token")
		}

		token, err := issueSessionToken(jwtSecret)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to issue session token")
		}

		return c.JSON(response{SessionToken: token, ExpiresIn: int(sessionTokenTTL.Seconds())})
	}
}

// jwtMiddleware rejects requests that do not carry a valid session JWT in
// the Authorization: Bearer header, issued by loginHandler.
func jwtMiddleware(jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}
		raw := strings.TrimPrefix(header, prefix)

		claims := &sessionClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.ErrUnauthorized
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired session token")
		}

		return c.Next()
	}
}
