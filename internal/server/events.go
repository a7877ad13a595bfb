package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListEvents exposes the log for polling clients: events strictly after the
// given sequence, ascending.
func (s *Server) ListEvents(c *gin.Context) {
	after, err := parseInt64(c.Query("after"), 0)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, err := parseLimit(c.Query("limit"), 100, 500)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	events, err := s.eventSvc.ReadAfter(c.Request.Context(), after, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	head, err := s.eventSvc.Head(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": events,
		"head": head,
	})
}

func (s *Server) ListDailyStats(c *gin.Context) {
	from := c.Query("from")
	to := c.Query("to")
	if from == "" || to == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	stats, err := s.reportingRep.FindRange(c.Request.Context(), s.db, from, to)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}
