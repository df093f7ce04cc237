package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealth())
	router.GET("/api/queue", handleQueueStats(opts))
	router.GET("/api/queue/failed", handleFailedItems(opts))
	router.GET("/api/sessions", handleSessions(opts))
	router.GET("/api/operators", handleOperators(opts))
	router.GET("/api/conversations", handleConversations(opts))
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleQueueStats(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := opts.Queue.CountByStatus()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"counts": counts})
	}
}

func handleFailedItems(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := queryFailedItems(opts.DB, 100)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func handleSessions(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.Sessions == nil {
			c.JSON(http.StatusOK, gin.H{"sessions": []any{}})
			return
		}
		sessions := opts.Sessions.All()
		out := make([]gin.H, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, gin.H{
				"conversation_key": s.ConversationKey,
				"tenant_id":        s.TenantID,
				"kind":             s.Kind,
				"step":             s.Step,
				"last_activity_at": s.LastActivityAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	}
}

func handleOperators(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		ops, err := queryOnlineOperators(opts.DB)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"operators": ops})
	}
}

func handleConversations(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		convs, err := queryOpenConversations(opts.DB, 200)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversations": convs})
	}
}
