package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	identitydomain "github.com/smallbiznis/wipline/internal/identity/domain"
)

func (s *Server) CreateAPIToken(c *gin.Context) {
	var body identitydomain.CreateTokenRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	resp, err := s.identitySvc.Create(c.Request.Context(), body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, resp)
}

func (s *Server) RevokeAPIToken(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	if err := s.identitySvc.Revoke(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	respondOK(c, http.StatusOK, gin.H{"revoked": true})
}
