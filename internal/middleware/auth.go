package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gracechurch/publisher/internal/logger"
)

const apiKeyHeader = "X-API-Key"

var (
	errMissingKey   = errors.New("missing API key")
	errInvalidKey   = errors.New("invalid API key")
	errUnconfigured = errors.New("API key not configured")
)

// AuthConfig configures NewAuth.
type AuthConfig struct {
	// Validator reports whether key may call the guarded routes. Required.
	Validator func(key string) (bool, error)

	// ErrorHandler answers rejected requests. Default: 401 JSON.
	ErrorHandler fiber.ErrorHandler
}

func rejectUnauthorized(c *fiber.Ctx, err error) error {
	logger.WithContext(c.UserContext()).Warn().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Str("ip", c.IP()).
		Err(err).
		Msg("Authentication failed")

	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "Invalid or missing API Key",
	})
}

// KeyValidator accepts exactly expected. An empty expected key rejects everything.
func KeyValidator(expected string) func(string) (bool, error) {
	return func(key string) (bool, error) {
		if expected == "" {
			return false, errUnconfigured
		}
		return subtle.ConstantTimeCompare([]byte(key), []byte(expected)) == 1, nil
	}
}

// NewAuth guards routes with the X-API-Key header. A "Bearer " prefix is accepted.
func NewAuth(cfg AuthConfig) fiber.Handler {
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = rejectUnauthorized
	}

	return func(c *fiber.Ctx) error {
		key := strings.TrimPrefix(c.Get(apiKeyHeader), "Bearer ")
		if key == "" {
			return cfg.ErrorHandler(c, errMissingKey)
		}

		valid, err := cfg.Validator(key)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}
		if !valid {
			return cfg.ErrorHandler(c, errInvalidKey)
		}
		return c.Next()
	}
}

// AdminOnly lets through requests carrying the admin key.
func AdminOnly(adminKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(apiKeyHeader)
		if key == "" {
			return rejectUnauthorized(c, errMissingKey)
		}

		if adminKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
			logger.WithContext(c.UserContext()).Warn().
				Str("method", c.Method()).
				Str("path", c.Path()).
				Str("ip", c.IP()).
				Msg("Unauthorized admin access attempt")

			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Admin access required",
			})
		}
		return c.Next()
	}
}
