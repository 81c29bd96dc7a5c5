package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	projectdomain "github.com/lineagelab/eventline/internal/project/domain"
	"github.com/lineagelab/eventline/pkg/db/pagination"
)

func parseProjectID(raw string) (int64, error) {
	projectID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || projectID <= 0 {
		return 0, newValidationError("projectId", "invalid", "projectId must be a positive integer")
	}
	return projectID, nil
}

func (s *Server) getProjectViewings(c *gin.Context) {
	projectID, err := parseProjectID(c.Param("projectId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid", "page_size must be an integer"))
		return
	}
	if page.PageSize < 1 || page.PageSize > 250 {
		AbortWithError(c, newValidationError("page_size", "out_of_range", "page_size must be between 1 and 250"))
		return
	}

	var before time.Time
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			AbortWithError(c, newValidationError("page_token", "invalid", "page_token is not a valid cursor"))
			return
		}
		before = cursor.Before
	}

	viewings, err := s.viewings.List(c.Request.Context(), s.db, projectID, before, page.PageSize+1)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	viewings, info, err := pagination.BuildCursorPageInfo(viewings, page.PageSize, func(v projectdomain.Viewing) pagination.Cursor {
		return pagination.Cursor{Before: v.ViewedAt}
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"viewings": viewings, "page_info": info})
}
