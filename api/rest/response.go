package rest

import (
	"github.com/gofiber/fiber/v2"
)

// Response is the envelope every JSON endpoint replies with.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Envelope codes. Zero is success; failures reuse their HTTP status.
const (
	CodeSuccess      = 0
	CodeBadRequest   = 400
	CodeUnauthorized = 401
	CodeNotFound     = 404
	CodeServerError  = 500
	CodeUnavailable  = 503
)

// Success replies 200 with data.
func Success(c *fiber.Ctx, data any) error {
	return c.JSON(Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Accepted replies 202 with data, for work that was queued rather than done.
func Accepted(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusAccepted).JSON(Response{
		Code:    CodeSuccess,
		Message: "accepted",
		Data:    data,
	})
}

// BadRequest replies 400.
func BadRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(Response{
		Code:    CodeBadRequest,
		Message: message,
	})
}

// Unauthorized replies 401.
func Unauthorized(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "unauthorized"
	}
	return c.Status(fiber.StatusUnauthorized).JSON(Response{
		Code:    CodeUnauthorized,
		Message: message,
	})
}

// NotFound replies 404.
func NotFound(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "not found"
	}
	return c.Status(fiber.StatusNotFound).JSON(Response{
		Code:    CodeNotFound,
		Message: message,
	})
}

// ServerError replies 500.
func ServerError(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "server error"
	}
	return c.Status(fiber.StatusInternalServerError).JSON(Response{
		Code:    CodeServerError,
		Message: message,
	})
}

// Unavailable replies 503, used when the run queue cannot take more work.
func Unavailable(c *fiber.Ctx, message string, data any) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(Response{
		Code:    CodeUnavailable,
		Message: message,
		Data:    data,
	})
}
