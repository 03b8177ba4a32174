package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RunNightlyJobs triggers one nightly maintenance run. Individual job
// failures are data in the report, not transport errors; only an
// overlapping run or an auth failure rejects the call.
func (s *Server) RunNightlyJobs(c *gin.Context) {
	report, err := s.scheduler.RunNightly(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondOK(c, http.StatusOK, report)
}
