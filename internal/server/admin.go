package server

import (
	"net/http"

	"github.com/autra-ai/marketplace/internal/account"
	"github.com/autra-ai/marketplace/internal/agent"
	apierrors "github.com/autra-ai/marketplace/internal/errors"
	"github.com/autra-ai/marketplace/internal/ledger"
	"github.com/autra-ai/marketplace/internal/logging"
	"github.com/autra-ai/marketplace/internal/middleware"
	"github.com/autra-ai/marketplace/internal/models"
	"github.com/autra-ai/marketplace/internal/review"
	"github.com/gin-gonic/gin"
)

// ============================================
// Users
// ============================================

func (s *APIServer) handleAdminSearchUsers(c *gin.Context) {
	var f account.UserFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		respondBindError(c, err)
		return
	}

	resp, err := s.accounts.Search(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type adminCreateUserRequest struct {
	account.RegisterRequest
	IsStaff bool `json:"is_staff"`
}

// handleAdminCreateUser creates an account, optionally with staff rights
func (s *APIServer) handleAdminCreateUser(c *gin.Context) {
	var req adminCreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	req.RegisterRequest.IsStaff = req.IsStaff

	user, err := s.accounts.Register(c.Request.Context(), &req.RegisterRequest)
	if err != nil {
		respondError(c, err)
		return
	}
	if user.IsStaff {
		logging.LogSecurityEvent("staff_created", user.ID.String(), c.ClientIP(),
			"created by "+middleware.GetEmailFromContext(c)+" ("+middleware.GetUserIDFromContext(c)+")")
	}
	c.JSON(http.StatusCreated, user)
}

func (s *APIServer) handleAdminGetUser(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	user, err := s.accounts.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *APIServer) handleAdminVerifyUser(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	user, err := s.accounts.Verify(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *APIServer) handleAdminDeactivateUser(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if err := s.accounts.Deactivate(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *APIServer) handleAdminRecomputeTrust(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	score, err := s.accounts.RecomputeTrustScore(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "trust_score": score})
}

func (s *APIServer) handleAdminRefreshCompletion(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	pct, err := s.accounts.RefreshProfileCompletion(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "profile_completion": pct})
}

// ============================================
// Agents
// ============================================

// handleAdminSearchAgents searches every agent, active or not
func (s *APIServer) handleAdminSearchAgents(c *gin.Context) {
	f, ok := bindAgentFilter(c)
	if !ok {
		return
	}

	resp, err := s.agents.Search(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) handleAdminGetAgent(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	a, err := s.agents.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent.NewAgentResponse(a, true))
}

func (s *APIServer) handleAdminSetStatus(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req agent.StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	resp, err := s.agents.SetStatus(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) handleAdminSetTrustAttributes(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req agent.TrustAttributesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	resp, err := s.agents.SetTrustAttributes(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type usageRequest struct {
	Calls int64 `json:"calls" binding:"required"`
}

func (s *APIServer) handleAdminRecordUsage(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req usageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := s.agents.RecordUsage(c.Request.Context(), id, req.Calls); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *APIServer) handleAdminRecomputeRating(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	rating, err := s.reviews.RecomputeRating(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rating)
}

// ============================================
// Transactions
// ============================================

func (s *APIServer) handleAdminListTransactions(c *gin.Context) {
	var f ledger.TransactionFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		respondBindError(c, err)
		return
	}

	resp, err := s.ledger.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) handleAdminGetTransaction(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	tx, err := s.ledger.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

type transitionRequest struct {
	Status models.TransactionStatus `json:"status" binding:"required"`
}

// handleAdminTransition moves a transaction through its lifecycle
func (s *APIServer) handleAdminTransition(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if !req.Status.Valid() {
		middleware.RespondWithError(c, apierrors.NewInvalidRequestError("Unknown status "+string(req.Status)))
		return
	}

	tx, err := s.ledger.Transition(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// ============================================
// Reviews
// ============================================

func (s *APIServer) handleAdminSearchReviews(c *gin.Context) {
	var f review.ReviewFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		respondBindError(c, err)
		return
	}

	resp, err := s.reviews.Search(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) handleAdminGetReview(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	r, err := s.reviews.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
