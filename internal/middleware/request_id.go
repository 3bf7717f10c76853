package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	CtxRequestID    = "request_id"
	headerRequestID = "X-Request-ID"
)

// RequestIDMiddleware tags every request with an id so a purchase's API calls
// can be correlated in the logs. A caller-supplied id is honored, which lets
// the frontend thread one id through initiate and verify.
func RequestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(headerRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals(CtxRequestID, reqID)
		c.Set(headerRequestID, reqID)
		return c.Next()
	}
}

// RequestID returns the id assigned by RequestIDMiddleware, or "" when the
// middleware has not run.
func RequestID(c *fiber.Ctx) string {
	reqID, _ := c.Locals(CtxRequestID).(string)
	return reqID
}
