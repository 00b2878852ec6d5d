package requestid

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// HeaderName carries the request id in and out of the service.
const HeaderName = "X-Request-Id"

// New returns a middleware that ensures every request carries an id.
// An id supplied by the client is kept, which lets callers use the same
// value as their reservation requestId and trace it end to end.
func New() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(HeaderName)
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals("request_id", id)
		c.Set(HeaderName, id)
		return c.Next()
	}
}
