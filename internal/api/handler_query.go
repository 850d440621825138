package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mailsignal/internal/repository"
)

type QueryHandler struct {
	states   *repository.AccountStateRepository
	insights *repository.InsightRepository
	risk     *repository.RiskRepository
}

func NewQueryHandler(
	states *repository.AccountStateRepository,
	insights *repository.InsightRepository,
	risk *repository.RiskRepository,
) *QueryHandler {
	return &QueryHandler{
		states:   states,
		insights: insights,
		risk:     risk,
	}
}

// GetAccountState handles GET /accounts/:email/state
func (h *QueryHandler) GetAccountState(c *gin.Context) {
	email := c.Param("email")

	state, err := h.states.Get(c.Request.Context(), email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch account state"})
		return
	}
	if state == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not scanned yet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"state": state})
}

// GetAccountInsights handles GET /accounts/:email/insights
func (h *QueryHandler) GetAccountInsights(c *gin.Context) {
	email := c.Param("email")

	insights, err := h.insights.ListByAccount(c.Request.Context(), email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch insights"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"insights": insights})
}

// GetRiskScores handles GET /risk
func (h *QueryHandler) GetRiskScores(c *gin.Context) {
	scores, err := h.risk.ListAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch risk scores"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"scores": scores})
}

// DismissInsight handles POST /insights/:id/dismiss
func (h *QueryHandler) DismissInsight(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid insight id"})
		return
	}

	if err := h.insights.Dismiss(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to dismiss insight"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"dismissed": id})
}
