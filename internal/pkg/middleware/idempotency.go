package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PropNest/app/controllers"
	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
	"github.com/ManuelReschke/PropNest/internal/pkg/idempotency"
	"github.com/ManuelReschke/PropNest/internal/pkg/logger"
	"github.com/ManuelReschke/PropNest/internal/pkg/usercontext"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay marks responses served from a stored result.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	maxIdempotencyKeyLength = 128
)

// Idempotency makes a mutating route safe to retry. Requests carrying an
// Idempotency-Key reserve it per user and route; the data of a successful
// response is stored and replayed to later requests with the same key.
// Failed requests release the key so the client can retry them.
func Idempotency(guard *idempotency.Guard, log *zap.Logger) fiber.Handler {
	log = logger.OrNop(log)
	return func(c *fiber.Ctx) error {
		key := strings.TrimSpace(c.Get(HeaderIdempotencyKey))
		if key == "" {
			return c.Next()
		}
		if len(key) > maxIdempotencyKeyLength {
			return apperror.ErrValidation.WithMessage("%s must be at most %d characters", HeaderIdempotencyKey, maxIdempotencyKeyLength)
		}

		ctx := c.UserContext()
		scope := fmt.Sprintf("user:%d:%s %s", usercontext.GetUserID(c), c.Method(), c.Route().Path)
		prior, err := guard.CheckOrReserve(ctx, key, scope, fingerprint(c))
		if err != nil {
			return err
		}
		if prior != nil {
			c.Set(HeaderIdempotentReplay, "true")
			return controllers.Respond(c, prior.StatusCode, json.RawMessage(prior.Body))
		}

		release := func() {
			if err := guard.Release(ctx, key, scope); err != nil {
				log.Warn("could not release idempotency key", zap.String("scope", scope), zap.Error(err))
			}
		}

		if err := c.Next(); err != nil {
			release()
			return err
		}

		status := c.Response().StatusCode()
		if status < fiber.StatusOK || status >= fiber.StatusMultipleChoices {
			release()
			return nil
		}
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(c.Response().Body(), &env); err != nil || len(env.Data) == 0 {
			release()
			return nil
		}
		if err := guard.Store(ctx, key, scope, status, env.Data); err != nil {
			// the reservation expires after the in-flight TTL
			log.Error("could not store idempotent result", zap.String("scope", scope), zap.Error(err))
		}
		return nil
	}
}

func fingerprint(c *fiber.Ctx) string {
	h := sha256.New()
	h.Write([]byte(c.Method()))
	h.Write([]byte{'\n'})
	h.Write([]byte(c.Path()))
	h.Write([]byte{'\n'})
	h.Write(c.Body())
	return hex.EncodeToString(h.Sum(nil))
}
