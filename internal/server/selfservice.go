package server

import (
	"net/http"

	"github.com/autra-ai/marketplace/internal/account"
	"github.com/autra-ai/marketplace/internal/agent"
	"github.com/autra-ai/marketplace/internal/ledger"
	"github.com/autra-ai/marketplace/internal/middleware"
	"github.com/autra-ai/marketplace/internal/review"
	"github.com/gin-gonic/gin"
)

// ============================================
// Accounts
// ============================================

func (s *APIServer) handleRegister(c *gin.Context) {
	var req account.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	user, err := s.accounts.Register(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (s *APIServer) handleGetMe(c *gin.Context) {
	user, err := s.accounts.Get(c.Request.Context(), middleware.GetUserUUIDFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *APIServer) handleUpdateMe(c *gin.Context) {
	var req account.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	user, err := s.accounts.UpdateProfile(c.Request.Context(), middleware.GetUserUUIDFromContext(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *APIServer) handleHeartbeat(c *gin.Context) {
	if err := s.accounts.TouchLastActive(c.Request.Context(), middleware.GetUserUUIDFromContext(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ============================================
// Developer agents
// ============================================

func (s *APIServer) handleCreateAgent(c *gin.Context) {
	var req agent.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	resp, err := s.agents.Create(c.Request.Context(), middleware.GetUserUUIDFromContext(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// handleListMyAgents lists the caller's agents, active or not
func (s *APIServer) handleListMyAgents(c *gin.Context) {
	f, ok := bindAgentFilter(c)
	if !ok {
		return
	}
	developerID := middleware.GetUserUUIDFromContext(c)
	f.DeveloperID = &developerID

	resp, err := s.agents.Search(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) handleGetMyAgent(c *gin.Context) {
	agentID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	a, err := s.agents.Get(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, err)
		return
	}
	if a.DeveloperID != middleware.GetUserUUIDFromContext(c) {
		respondError(c, agent.ErrAgentNotOwned)
		return
	}
	c.JSON(http.StatusOK, agent.NewAgentResponse(a, true))
}

func (s *APIServer) handleUpdateAgent(c *gin.Context) {
	agentID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req agent.UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	resp, err := s.agents.Update(c.Request.Context(), agentID, middleware.GetUserUUIDFromContext(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) handleAddVersion(c *gin.Context) {
	agentID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req agent.AddVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	v, err := s.agents.AddVersion(c.Request.Context(), agentID, middleware.GetUserUUIDFromContext(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (s *APIServer) handleListMyVersions(c *gin.Context) {
	agentID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	a, err := s.agents.Get(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, err)
		return
	}
	if a.DeveloperID != middleware.GetUserUUIDFromContext(c) {
		respondError(c, agent.ErrAgentNotOwned)
		return
	}

	versions, err := s.agents.ListVersions(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

type stableRequest struct {
	Stable bool `json:"stable"`
}

func (s *APIServer) handleSetVersionStable(c *gin.Context) {
	agentID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	versionID, ok := uuidParam(c, "versionId")
	if !ok {
		return
	}

	var req stableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	v, err := s.agents.SetVersionStable(c.Request.Context(), agentID, versionID, middleware.GetUserUUIDFromContext(c), req.Stable)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// ============================================
// Transactions
// ============================================

// handleCreateTransaction records a purchase by the caller
func (s *APIServer) handleCreateTransaction(c *gin.Context) {
	var req ledger.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	req.BuyerID = middleware.GetUserUUIDFromContext(c)

	tx, err := s.ledger.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

// handleListMyTransactions lists transactions the caller bought or sold
func (s *APIServer) handleListMyTransactions(c *gin.Context) {
	var f ledger.TransactionFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		respondBindError(c, err)
		return
	}
	userID := middleware.GetUserUUIDFromContext(c)
	f.ParticipantID = &userID

	resp, err := s.ledger.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) handleGetMyTransaction(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	tx, err := s.ledger.GetForUser(c.Request.Context(), id, middleware.GetUserUUIDFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// ============================================
// Reviews
// ============================================

func (s *APIServer) handleSubmitReview(c *gin.Context) {
	var req review.SubmitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	r, rating, err := s.reviews.Submit(c.Request.Context(), middleware.GetUserUUIDFromContext(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"review": r, "agent_rating": rating})
}

func (s *APIServer) handleUpdateReview(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req review.UpdateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	r, err := s.reviews.Update(c.Request.Context(), id, middleware.GetUserUUIDFromContext(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// handleDeleteReview lets the reviewer, or staff, remove a review
func (s *APIServer) handleDeleteReview(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	rating, err := s.reviews.Delete(c.Request.Context(), id,
		middleware.GetUserUUIDFromContext(c), middleware.IsStaffFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_rating": rating})
}

func (s *APIServer) handleMarkHelpful(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	r, err := s.reviews.MarkHelpful(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *APIServer) handleReportReview(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	r, err := s.reviews.Report(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
