package server

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fakturo/internal/actor"
	shopdomain "github.com/smallbiznis/fakturo/internal/shop/domain"
)

type (
	shopTransitionFunc        func(ctx context.Context, a actor.Actor, id snowflake.ID) (*shopdomain.ShopOrderQueue, error)
	shopMessageTransitionFunc func(ctx context.Context, a actor.Actor, id snowflake.ID, message string) (*shopdomain.ShopOrderQueue, error)
)

type editShopOrderRequest struct {
	Values map[string]string `json:"values" binding:"required"`
}

func (s *Server) ListShopForms(c *gin.Context) {
	forms, err := s.shopSvc.ListForms(c.Request.Context(), actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, forms)
}

func (s *Server) CreateShopForm(c *gin.Context) {
	var req shopdomain.FormRequest
	if !bindJSON(c, &req) {
		return
	}
	form, err := s.shopSvc.CreateForm(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, form)
}

func (s *Server) GetShopForm(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	form, err := s.shopSvc.GetForm(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, form)
}

func (s *Server) AddShopField(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req shopdomain.FieldRequest
	if !bindJSON(c, &req) {
		return
	}
	field, err := s.shopSvc.AddField(c.Request.Context(), actorFrom(c), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, field)
}

func (s *Server) AddShopOption(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req shopdomain.OptionRequest
	if !bindJSON(c, &req) {
		return
	}
	opt, err := s.shopSvc.AddOption(c.Request.Context(), actorFrom(c), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, opt)
}

func (s *Server) SubmitShopOrder(c *gin.Context) {
	var req shopdomain.SubmitRequest
	if !bindJSON(c, &req) {
		return
	}
	order, err := s.shopSvc.Submit(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, order)
}

func (s *Server) ListShopOrders(c *gin.Context) {
	grid, ok := bindGrid(c)
	if !ok {
		return
	}
	resp, err := s.shopSvc.List(c.Request.Context(), actorFrom(c), grid)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondGrid(c, resp)
}

func (s *Server) GetShopOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, err := s.shopSvc.Get(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, order)
}

func (s *Server) GetShopOrderHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	items, err := s.shopSvc.History(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, items)
}

func (s *Server) EditShopOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req editShopOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	order, err := s.shopSvc.Edit(c.Request.Context(), actorFrom(c), id, req.Values)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, order)
}

func (s *Server) DeleteShopOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.shopSvc.Delete(c.Request.Context(), actorFrom(c), id); err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, nil)
}

func (s *Server) shopTransition(fn shopTransitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		order, err := fn(c.Request.Context(), actorFrom(c), id)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		respond(c, http.StatusOK, order)
	}
}

func (s *Server) shopMessageTransition(fn shopMessageTransitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		message, ok := bindMessage(c)
		if !ok {
			return
		}
		order, err := fn(c.Request.Context(), actorFrom(c), id, message)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		respond(c, http.StatusOK, order)
	}
}
