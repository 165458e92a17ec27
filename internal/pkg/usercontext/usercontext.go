package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PropNest/app/models"
)

// Headers set by the upstream auth layer.
const (
	HeaderUserID   = "X-Auth-User-Id"
	HeaderAudience = "X-Auth-Audience"
)

const localsKey = "IDENTITY"

// Identity is the authenticated caller as asserted by the upstream auth layer.
type Identity struct {
	UserID   uint            `json:"user_id"`
	Audience models.Audience `json:"audience"`
}

// Set stores the identity on the request.
func Set(c *fiber.Ctx, id Identity) {
	c.Locals(localsKey, id)
}

// Get returns the identity of the request. ok is false for anonymous requests.
func Get(c *fiber.Ctx) (Identity, bool) {
	id, ok := c.Locals(localsKey).(Identity)
	return id, ok && id.UserID != 0
}

// GetUserID returns the current user's ID, or 0 if not authenticated
func GetUserID(c *fiber.Ctx) uint {
	id, _ := Get(c)
	return id.UserID
}
