package server

import (
	"github.com/gin-gonic/gin"
)

func (s *Server) ListFiles(c *gin.Context) {
	grid, ok := bindGrid(c)
	if !ok {
		return
	}
	resp, err := s.fileSvc.List(c.Request.Context(), actorFrom(c), grid)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondGrid(c, resp)
}

func (s *Server) DownloadFile(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	file, body, err := s.fileSvc.Open(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer body.Close()
	streamFile(c, file.Name, file.Mime, file.Size, body)
}
