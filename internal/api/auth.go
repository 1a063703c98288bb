package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Role defines the access level of a caller.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOwner    Role = "owner"
	RoleReadOnly Role = "readonly"
)

const (
	localRole    = "role"
	localSubject = "subject"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode      string          // "api-key", "jwt", "none"
	APIKey    string          // grants admin
	Roles     map[string]Role // extra api keys and their roles
	JWTSecret string          // HS256 key; the subject claim is the owner id
	JWTIssuer string          // required issuer, if set
}

// NewAuthMiddleware returns a Fiber middleware that validates the
// Authorization header.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Mode == "none" {
			c.Locals(localRole, RoleAdmin)
			return c.Next()
		}

		path := c.Path()
		if isProbe(path) {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		if cfg.Mode == "jwt" {
			subject, err := verifyToken(cfg, token)
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Str("method", c.Method()).Msg("Unauthorized request: invalid token")
				return problemResponse(c, fiber.StatusUnauthorized,
					"invalid_token", "Unauthorized", "Invalid bearer token")
			}
			c.Locals(localRole, RoleOwner)
			c.Locals(localSubject, subject)
			return c.Next()
		}

		if cfg.APIKey != "" && token == cfg.APIKey {
			c.Locals(localRole, RoleAdmin)
			return c.Next()
		}
		if role, ok := cfg.Roles[token]; ok {
			c.Locals(localRole, role)
			return c.Next()
		}

		logger.Warn().
			Str("path", path).
			Str("method", c.Method()).
			Msg("Unauthorized request: invalid API key")

		return problemResponse(c, fiber.StatusUnauthorized,
			"invalid_api_key", "Unauthorized",
			"Invalid API key")
	}
}

// verifyToken checks an HS256 token and returns its subject.
func verifyToken(cfg AuthConfig, token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.JWTIssuer))
	}
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("subject required")
	}
	return claims.Subject, nil
}

// requireOwner lets admins through and restricts token holders to their own
// collection.
func requireOwner() fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals(localRole).(Role)
		if role == RoleAdmin || role == RoleReadOnly {
			return c.Next()
		}
		subject, _ := c.Locals(localSubject).(string)
		if role == RoleOwner && subject != "" && subject == c.Params("owner") {
			return c.Next()
		}
		return problemResponse(c, fiber.StatusForbidden,
			"forbidden_owner", "Forbidden",
			"Token does not grant access to this owner")
	}
}

// requireWrite rejects read-only callers on mutating routes.
func requireWrite() fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals(localRole).(Role)
		if role == RoleReadOnly {
			return problemResponse(c, fiber.StatusForbidden,
				"insufficient_role", "Forbidden",
				"Insufficient permissions for this operation")
		}
		return c.Next()
	}
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}
