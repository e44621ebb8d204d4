package server

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fakturo/internal/actor"
	contractdomain "github.com/smallbiznis/fakturo/internal/contract/domain"
)

type contractTransitionFunc func(ctx context.Context, a actor.Actor, id snowflake.ID) (*contractdomain.Contract, error)

func (s *Server) ListContractTypes(c *gin.Context) {
	types, err := s.contractSvc.ListTypes(c.Request.Context(), actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, types)
}

func (s *Server) CreateContractType(c *gin.Context) {
	var req contractdomain.TypeRequest
	if !bindJSON(c, &req) {
		return
	}
	item, err := s.contractSvc.CreateType(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, item)
}

func (s *Server) CreateContract(c *gin.Context) {
	var req contractdomain.CreateRequest
	if !bindJSON(c, &req) {
		return
	}
	item, err := s.contractSvc.Create(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, item)
}

func (s *Server) ListContracts(c *gin.Context) {
	grid, ok := bindGrid(c)
	if !ok {
		return
	}
	resp, err := s.contractSvc.List(c.Request.Context(), actorFrom(c), grid)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondGrid(c, resp)
}

func (s *Server) GetContract(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := s.contractSvc.Get(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, view)
}

func (s *Server) DeleteContract(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.contractSvc.Delete(c.Request.Context(), actorFrom(c), id); err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, nil)
}

func (s *Server) AddContractPosition(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req contractdomain.PositionRequest
	if !bindJSON(c, &req) {
		return
	}
	pos, err := s.contractSvc.AddPosition(c.Request.Context(), actorFrom(c), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, pos)
}

func (s *Server) EndContractPosition(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	positionID, ok := pathID(c, "position_id")
	if !ok {
		return
	}
	if err := s.contractSvc.EndPosition(c.Request.Context(), actorFrom(c), id, positionID); err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, nil)
}

func (s *Server) contractTransition(fn contractTransitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		item, err := fn(c.Request.Context(), actorFrom(c), id)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		respond(c, http.StatusOK, item)
	}
}
