package server

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fakturo/internal/actor"
)

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed <= 0 {
		return nil, errors.New("invalid_snowflake_id")
	}
	return &parsed, nil
}

func queryID(c *gin.Context, name string) (*snowflake.ID, bool) {
	id, err := parseOptionalSnowflakeID(c.Query(name))
	if err != nil {
		AbortWithError(c, newValidationError(name, "invalid_id", "invalid id"))
		return nil, false
	}
	return id, true
}

// userScope reads ?user_id and falls back to the caller for customers.
func userScope(c *gin.Context, a actor.Actor) (snowflake.ID, bool) {
	id, ok := queryID(c, "user_id")
	if !ok {
		return 0, false
	}
	if id != nil {
		return *id, true
	}
	if a.IsPrivileged() {
		AbortWithError(c, newValidationError("user_id", "required", "user_id is required"))
		return 0, false
	}
	return a.UserID, true
}
