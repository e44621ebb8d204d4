package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fakturo/internal/actor"
	obscontext "github.com/smallbiznis/fakturo/internal/observability/context"
)

const contextActorKey = "actor"

// APIKeyRequired resolves the bearer token into the acting user. Every
// handler below it reads the actor through actorFrom.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		a, err := s.apiKeySvc.Resolve(c.Request.Context(), parts[1])
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextActorKey, a)
		ctx := obscontext.WithActor(c.Request.Context(), string(a.Role), a.UserID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RateLimit throttles per actor once APIKeyRequired has run.
func (s *Server) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		res, err := s.limiter.Allow(c.Request.Context(), actorFrom(c))
		if err != nil {
			// redis trouble must not take the API down
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) actor.Actor {
	if v, ok := c.Get(contextActorKey); ok {
		if a, ok := v.(actor.Actor); ok {
			return a
		}
	}
	return actor.Actor{}
}
