package server

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fakturo/internal/actor"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
)

type invoiceTransitionFunc func(ctx context.Context, a actor.Actor, id snowflake.ID) (*invoicedomain.Invoice, error)

func (s *Server) ListInvoiceTypes(c *gin.Context) {
	types, err := s.invoiceSvc.ListTypes(c.Request.Context(), actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, types)
}

func (s *Server) CreateInvoiceType(c *gin.Context) {
	var req invoicedomain.TypeRequest
	if !bindJSON(c, &req) {
		return
	}
	item, err := s.invoiceSvc.CreateType(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, item)
}

func (s *Server) CreateInvoiceTemplate(c *gin.Context) {
	var req invoicedomain.CreateTemplateRequest
	if !bindJSON(c, &req) {
		return
	}
	item, err := s.invoiceSvc.CreateTemplate(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, item)
}

func (s *Server) ListInvoices(c *gin.Context) {
	grid, ok := bindGrid(c)
	if !ok {
		return
	}
	resp, err := s.invoiceSvc.List(c.Request.Context(), actorFrom(c), grid)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondGrid(c, resp)
}

func (s *Server) GetInvoice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	item, err := s.invoiceSvc.Get(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, item)
}

func (s *Server) GetInvoiceHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	items, err := s.invoiceSvc.History(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, items)
}

func (s *Server) ListInvoiceReminders(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	items, err := s.dunningSvc.ListReminders(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, items)
}

func (s *Server) DownloadInvoice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	file, body, err := s.invoiceSvc.Download(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer body.Close()
	streamFile(c, file.Name, file.Mime, file.Size, body)
}

func (s *Server) AddInvoicePosition(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req invoicedomain.PositionRequest
	if !bindJSON(c, &req) {
		return
	}
	pos, err := s.invoiceSvc.AddPosition(c.Request.Context(), actorFrom(c), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, pos)
}

func (s *Server) UpdateInvoicePosition(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	positionID, ok := pathID(c, "position_id")
	if !ok {
		return
	}
	var req invoicedomain.PositionRequest
	if !bindJSON(c, &req) {
		return
	}
	pos, err := s.invoiceSvc.UpdatePosition(c.Request.Context(), actorFrom(c), id, positionID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, pos)
}

func (s *Server) RemoveInvoicePosition(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	positionID, ok := pathID(c, "position_id")
	if !ok {
		return
	}
	if err := s.invoiceSvc.RemovePosition(c.Request.Context(), actorFrom(c), id, positionID); err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, nil)
}

func (s *Server) invoiceTransition(fn invoiceTransitionFunc) gin.HandlerFunc {
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

// invoiceCorrection issues the negating invoice. The response carries the new
// invoice, not the source.
func (s *Server) invoiceCorrection(target invoicedomain.InvoiceStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		item, err := s.invoiceSvc.Refund(c.Request.Context(), actorFrom(c), id, target)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		respond(c, http.StatusCreated, item)
	}
}

func streamFile(c *gin.Context, name, mime string, size int64, body io.Reader) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.DataFromReader(http.StatusOK, size, mime, body, nil)
}
