package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListSubscriptions(c *gin.Context) {
	subs, err := s.subSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	head, err := s.eventSvc.Head(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	type subscriptionView struct {
		SubscriberName        string `json:"subscriber_name"`
		LastProcessedSequence int64  `json:"last_processed_sequence"`
		Lag                   int64  `json:"lag"`
	}
	views := make([]subscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, subscriptionView{
			SubscriberName:        sub.SubscriberName,
			LastProcessedSequence: sub.LastProcessedSequence,
			Lag:                   head - sub.LastProcessedSequence,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"data": views,
		"head": head,
	})
}

func (s *Server) GetSubscription(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	cursor, err := s.subSvc.CursorOf(c.Request.Context(), name)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"subscriber_name":         name,
			"last_processed_sequence": cursor,
		},
	})
}

// TriggerDispatch runs one dispatch cycle on demand. Useful for ops and for
// deployments that disable the poll loop.
func (s *Server) TriggerDispatch(c *gin.Context) {
	if s.dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{
			"type":    "service_unavailable",
			"message": "dispatcher is not running in this process",
		}})
		return
	}

	if err := s.dispatcher.RunOnce(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "completed"}})
}
