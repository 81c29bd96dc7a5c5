package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lineagelab/eventline/internal/subscriber"
)

type subscriptionBody struct {
	CategoryName string `json:"categoryName"`
	Subscriber   struct {
		URL      string `json:"url"`
		Capacity int    `json:"capacity"`
	} `json:"subscriber"`
}

var subscriptionCategories = map[string]bool{
	subscriber.CategoryAwaitingGeneration: true,
	subscriber.CategoryTriplesGenerated:   true,
}

func (s *Server) postSubscription(c *gin.Context) {
	var body subscriptionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "request body is not valid JSON"))
		return
	}
	if !subscriptionCategories[body.CategoryName] {
		AbortWithError(c, newValidationError("categoryName", "unknown_category",
			"categoryName must be AWAITING_GENERATION or TRIPLES_GENERATED"))
		return
	}
	url := strings.TrimSpace(body.Subscriber.URL)
	if url == "" {
		AbortWithError(c, newValidationError("subscriber.url", "required", "subscriber url is required"))
		return
	}

	added := s.registry.Register(body.CategoryName, subscriber.Subscriber{
		URL:      url,
		Capacity: body.Subscriber.Capacity,
	})
	if added {
		c.JSON(http.StatusCreated, gin.H{"status": "registered"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
}
