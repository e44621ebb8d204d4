package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fakturo/pkg/db/pagination"
)

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"status": "success", "data": data})
}

// respondGrid writes the grid envelope as is so table clients can read draw.
func respondGrid(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param(name))
	if err != nil || id <= 0 {
		AbortWithError(c, newValidationError(name, "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		AbortWithError(c, bindError(err))
		return false
	}
	return true
}

// bindGrid accepts an empty body as the first page.
func bindGrid(c *gin.Context) (pagination.GridRequest, bool) {
	var req pagination.GridRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	return req, bindJSON(c, &req)
}

// messageRequest is the optional body of transitions that carry a note.
type messageRequest struct {
	Message string `json:"message"`
}

func bindMessage(c *gin.Context) (string, bool) {
	var req messageRequest
	if c.Request.ContentLength == 0 {
		return "", true
	}
	if !bindJSON(c, &req) {
		return "", false
	}
	return req.Message, true
}
