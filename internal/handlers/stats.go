package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// HandleRuleStats serves per-rule counters and success rates for one account.
func HandleRuleStats(c *gin.Context) {
	accountID := c.Param("id")

	stats, err := deps.Rules.Stats(c.Request.Context(), accountID)
	if err != nil {
		deps.Logger.WithError(err).WithField("account_id", accountID).Error("Failed to load rule stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account_id": accountID,
		"rules":      stats,
	})
}

// HandleActivity serves the recent dispatch outcome feed for one account.
func HandleActivity(c *gin.Context) {
	accountID := c.Param("id")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	entries, err := deps.Activity.Recent(c.Request.Context(), accountID, limit)
	if err != nil {
		deps.Logger.WithError(err).WithField("account_id", accountID).Error("Failed to load activity")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load activity"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account_id": accountID,
		"activity":   entries,
	})
}

// HandleBreakers reports the state of every dependency circuit breaker.
func HandleBreakers(c *gin.Context) {
	states := make(map[string]string, len(deps.Breakers))
	for name, breaker := range deps.Breakers {
		states[name] = breaker.State().String()
	}
	c.JSON(http.StatusOK, gin.H{"breakers": states})
}
