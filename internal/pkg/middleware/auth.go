package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
	"github.com/ManuelReschke/PropNest/internal/pkg/usercontext"
)

// RequireIdentity accepts the identity asserted by the upstream auth layer
// and rejects requests without one with 401.
func RequireIdentity(c *fiber.Ctx) error {
	rawID := strings.TrimSpace(c.Get(usercontext.HeaderUserID))
	if rawID == "" {
		return apperror.ErrUnauthorized.WithMessage("missing %s header", usercontext.HeaderUserID)
	}
	userID, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil || userID == 0 || userID > uint64(^uint(0)) {
		return apperror.ErrUnauthorized.WithMessage("invalid %s header", usercontext.HeaderUserID)
	}

	audience, err := models.ParseAudience(c.Get(usercontext.HeaderAudience))
	if err != nil {
		return apperror.ErrUnauthorized.WithMessage("invalid %s header", usercontext.HeaderAudience)
	}

	usercontext.Set(c, usercontext.Identity{UserID: uint(userID), Audience: audience})
	return c.Next()
}
