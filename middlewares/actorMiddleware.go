package middlewares

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stitchworks/garment_backend/utils"
)

// ActorMiddleware lifts the identity collaborator's headers into the request
// context. The engine never authenticates: it trusts the gateway to have
// established who is calling and authorizes against the roster's stored role,
// so only the actor id is consumed here.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if raw := c.GetHeader("X-Actor-Id"); raw != "" {
			if actorId, err := strconv.Atoi(raw); err == nil {
				ctx = utils.SetActorIdInContext(ctx, actorId)
			}
		}
		if name := c.GetHeader("X-Actor-Name"); name != "" {
			ctx = utils.SetActorNameInContext(ctx, name)
		}

		correlationId := c.GetHeader("X-Correlation-Id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
		c.Header("X-Correlation-Id", correlationId)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
