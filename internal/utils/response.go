package utils

import "github.com/gofiber/fiber/v2"

// APIResponse is the envelope shared by every non-streaming endpoint.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

func write(c *fiber.Ctx, status int, body APIResponse) error {
	if body.Message == "" {
		if body.Success {
			body.Message = "success"
		} else {
			body.Message = "error"
		}
	}
	if status == 0 {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(body)
}

// SendSuccess writes a 200 envelope.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	return write(c, fiber.StatusOK, APIResponse{Success: true, Data: data, Message: message})
}

// SendSuccessWithStatus writes a success envelope with a custom status, such as
// 201 for a started session or 503 for a degraded health check.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	return write(c, status, APIResponse{Success: true, Data: data, Message: message})
}

// OK writes a 200 envelope with pagination metadata.
func OK(c *fiber.Ctx, data interface{}, message string, meta interface{}) error {
	return write(c, fiber.StatusOK, APIResponse{Success: true, Data: data, Message: message, Meta: meta})
}

// SendError writes a failure envelope without a code.
func SendError(c *fiber.Ctx, status int, message string) error {
	return write(c, status, APIResponse{Message: message})
}

// SendErrorCode writes a failure envelope with a machine-readable code.
func SendErrorCode(c *fiber.Ctx, status int, code, message string) error {
	return write(c, status, APIResponse{Message: message, Error: code})
}

// Fail writes a failure envelope with structured details, typically
// validation errors.
func Fail(c *fiber.Ctx, status int, message string, details interface{}) error {
	return write(c, status, APIResponse{Message: message, Details: details})
}
