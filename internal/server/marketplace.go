package server

import (
	"net/http"

	"github.com/autra-ai/marketplace/internal/agent"
	"github.com/autra-ai/marketplace/internal/database"
	apierrors "github.com/autra-ai/marketplace/internal/errors"
	"github.com/autra-ai/marketplace/internal/middleware"
	"github.com/autra-ai/marketplace/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// bindAgentFilter reads the catalog query string. min_rating is parsed here
// since decimals do not bind from forms.
func bindAgentFilter(c *gin.Context) (agent.AgentFilter, bool) {
	var f agent.AgentFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		respondBindError(c, err)
		return f, false
	}
	if raw := c.Query("min_rating"); raw != "" {
		minRating, err := decimal.NewFromString(raw)
		if err != nil {
			middleware.RespondWithError(c, apierrors.NewInvalidRequestError("Invalid min_rating"))
			return f, false
		}
		f.MinRating = &minRating
	}
	return f, true
}

func (s *APIServer) handleGetCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": models.Categories})
}

// handleSearchAgents lists active agents only
func (s *APIServer) handleSearchAgents(c *gin.Context) {
	f, ok := bindAgentFilter(c)
	if !ok {
		return
	}
	active := true
	f.IsActive = &active
	f.DeveloperID = nil

	resp, err := s.agents.Search(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) handleGetFeatured(c *gin.Context) {
	active, featured := true, true
	resp, err := s.agents.Search(c.Request.Context(), agent.AgentFilter{
		IsActive:   &active,
		IsFeatured: &featured,
		OrderBy:    agent.OrderRating,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) handleGetPublicAgent(c *gin.Context) {
	resp, err := s.agents.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) handleGetPublicVersions(c *gin.Context) {
	a, err := s.agents.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, err)
		return
	}

	versions, err := s.agents.ListVersions(c.Request.Context(), a.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

func (s *APIServer) handleGetAgentReviews(c *gin.Context) {
	var page database.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		respondBindError(c, err)
		return
	}

	a, err := s.agents.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, err)
		return
	}

	resp, err := s.reviews.ListForAgent(c.Request.Context(), a.ID, page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
