package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
	"github.com/ManuelReschke/PropNest/internal/pkg/logger"
)

// Meta is attached to every successful response.
type Meta struct {
	RequestID string `json:"requestId"`
}

// Envelope wraps successful responses.
type Envelope struct {
	Data any  `json:"data"`
	Meta Meta `json:"meta"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope wraps error responses.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// RequestID returns the id assigned by the requestid middleware.
func RequestID(c *fiber.Ctx) string {
	if id := c.GetRespHeader(fiber.HeaderXRequestID); id != "" {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}

// Respond writes data in the success envelope.
func Respond(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(Envelope{Data: data, Meta: Meta{RequestID: RequestID(c)}})
}

// RespondError writes err in the error envelope.
func RespondError(c *fiber.Ctx, err error) error {
	e := apperror.From(err)
	status := e.Status()
	if status >= fiber.StatusInternalServerError {
		logger.L().Error("request failed",
			zap.String("request_id", RequestID(c)),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("code", e.Code),
			zap.Error(err))
	}
	return c.Status(status).JSON(ErrorEnvelope{Error: ErrorDetail{Code: e.Code, Message: e.Message}})
}

// ErrorHandler is the fiber error handler of the API. Errors raised by fiber
// itself, like unknown routes or oversized bodies, keep their status.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := apperror.CodeValidation
		switch fe.Code {
		case fiber.StatusNotFound:
			code = "NOT_FOUND"
		case fiber.StatusMethodNotAllowed:
			code = "METHOD_NOT_ALLOWED"
		case fiber.StatusTooManyRequests:
			code = "RATE_LIMITED"
		case fiber.StatusUnauthorized:
			code = apperror.CodeUnauthorized
		default:
			if fe.Code >= fiber.StatusInternalServerError {
				code = apperror.CodeInternal
			}
		}
		return c.Status(fe.Code).JSON(ErrorEnvelope{Error: ErrorDetail{Code: code, Message: fe.Message}})
	}
	return RespondError(c, err)
}
