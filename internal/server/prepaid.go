package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	prepaiddomain "github.com/smallbiznis/fakturo/internal/prepaid/domain"
)

func (s *Server) GetPrepaidBalance(c *gin.Context) {
	a := actorFrom(c)
	userID, ok := userScope(c, a)
	if !ok {
		return
	}
	balance, err := s.prepaidSvc.GetBalance(c.Request.Context(), a, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"user_id": userID.String(), "balance": balance.StringFixed(2)})
}

// ListPrepaidHistory lists every entry for admins unless ?user_id narrows it.
func (s *Server) ListPrepaidHistory(c *gin.Context) {
	userID, ok := queryID(c, "user_id")
	if !ok {
		return
	}
	grid, ok := bindGrid(c)
	if !ok {
		return
	}
	resp, err := s.prepaidSvc.List(c.Request.Context(), actorFrom(c), userID, grid)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondGrid(c, resp)
}

func (s *Server) DepositPrepaid(c *gin.Context) {
	var req prepaiddomain.DepositRequest
	if !bindJSON(c, &req) {
		return
	}
	entry, err := s.prepaidSvc.Deposit(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, entry)
}

func (s *Server) CorrectPrepaid(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req prepaiddomain.CorrectRequest
	if !bindJSON(c, &req) {
		return
	}
	entry, err := s.prepaidSvc.Correct(c.Request.Context(), actorFrom(c), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, entry)
}
