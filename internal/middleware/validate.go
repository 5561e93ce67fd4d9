package middleware

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gracechurch/publisher/internal/domain"
	"github.com/gracechurch/publisher/internal/logger"
	"github.com/gracechurch/publisher/internal/validation"
)

const validatedKey = "validated"

// ValidateRequest parses the body into a fresh T for every request, validates
// it and stores it for Validated.
func ValidateRequest[T any]() fiber.Handler {
	v := validation.New()
	return validateWith[T](v)
}

func validateWith[T any](v *validator.Validate) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req := new(T)
		if err := c.BodyParser(req); err != nil {
			return &domain.ValidationError{Message: "invalid request body: " + err.Error()}
		}

		if err := validation.Struct(v, req); err != nil {
			return err
		}

		c.Locals(validatedKey, req)
		return c.Next()
	}
}

// Validated returns the body stored by ValidateRequest[T].
func Validated[T any](c *fiber.Ctx) *T {
	req, _ := c.Locals(validatedKey).(*T)
	return req
}

// ErrorHandler maps errors to JSON responses. Errors carrying a status code
// keep it; everything else is a 500 with no details.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	body := fiber.Map{}

	var (
		fiberErr *fiber.Error
		httpErr  domain.HTTPError
		verr     *domain.ValidationError
		txErr    *domain.TransactionError
	)
	switch {
	case errors.As(err, &fiberErr):
		code = fiberErr.Code
		body["error"] = fiberErr.Message
	case errors.As(err, &httpErr):
		code = httpErr.StatusCode()
		body["error"] = err.Error()
	}
	if code >= fiber.StatusInternalServerError {
		body["error"] = "Internal Server Error"
		if errors.As(err, &txErr) {
			body["error"] = txErr.Message
		}
	}
	if errors.As(err, &verr) && len(verr.Fields) > 0 {
		body["fields"] = verr.Fields
	}
	if errors.As(err, &txErr) && txErr.RollbackFailures > 0 {
		body["rollback_failures"] = txErr.RollbackFailures
	}

	log := logger.WithContext(c.UserContext())
	event := log.Warn()
	if code >= fiber.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", code).
		Msg("HTTP error")

	return c.Status(code).JSON(body)
}
