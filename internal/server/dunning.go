package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	dunningdomain "github.com/smallbiznis/fakturo/internal/dunning/domain"
)

func (s *Server) ListDunningRules(c *gin.Context) {
	typeID, ok := queryID(c, "invoice_type_id")
	if !ok {
		return
	}
	if typeID == nil {
		AbortWithError(c, newValidationError("invoice_type_id", "required", "invoice_type_id is required"))
		return
	}
	rules, err := s.dunningSvc.ListRules(c.Request.Context(), actorFrom(c), *typeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, rules)
}

func (s *Server) CreateDunningRule(c *gin.Context) {
	var req dunningdomain.RuleRequest
	if !bindJSON(c, &req) {
		return
	}
	rule, err := s.dunningSvc.CreateRule(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, rule)
}

func (s *Server) DeleteDunningRule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.dunningSvc.DeleteRule(c.Request.Context(), actorFrom(c), id); err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, nil)
}
