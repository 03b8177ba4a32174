package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	wipdomain "github.com/smallbiznis/wipline/internal/wip/domain"
)

type calculateWipRequest struct {
	ProjectID string `json:"project_id"`
	AsOfDate  string `json:"as_of_date"`
}

func (s *Server) CalculateWip(c *gin.Context) {
	var body calculateWipRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
			return
		}
	}

	projectID, err := parseOptionalSnowflakeID(body.ProjectID)
	if err != nil {
		AbortWithError(c, newValidationError("project_id", "invalid_id", "invalid project id"))
		return
	}
	asOf, err := parseOptionalTime(body.AsOfDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("as_of_date", "invalid_date", "invalid as-of date"))
		return
	}

	resp, err := s.wipSvc.CalculateWip(c.Request.Context(), wipdomain.CalculateRequest{
		ProjectID: projectID,
		AsOfDate:  asOf,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondOK(c, http.StatusOK, resp)
}

func (s *Server) ListWipSnapshots(c *gin.Context) {
	projectID, err := parseOptionalSnowflakeID(c.Query("project_id"))
	if err != nil {
		AbortWithError(c, newValidationError("project_id", "invalid_id", "invalid project id"))
		return
	}
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	req := wipdomain.ListSnapshotsRequest{ProjectID: projectID}
	if limit != nil {
		req.Limit = *limit
	}
	snapshots, err := s.wipSvc.ListSnapshots(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondOK(c, http.StatusOK, gin.H{"snapshots": snapshots})
}
