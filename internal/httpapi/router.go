package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/rental-chat/internal/chat"
	"github.com/suPer8Hu/rental-chat/internal/common"
	"github.com/suPer8Hu/rental-chat/internal/config"
	"github.com/suPer8Hu/rental-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/rental-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/rental-chat/internal/realtime"
)

func NewRouter(cfg config.Config, svc *chat.Service, hub *realtime.Hub) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, common.CodeRouteNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, common.CodeMethodNotAllowed, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(cfg, svc, hub)

	r.GET("/ping", h.Ping)

	// Chat (JWT required)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/chat/ws", h.ChatWS)
	authGroup.POST("/chat/sessions", h.CreateChatSession)
	authGroup.GET("/chat/sessions/:session_id", h.GetChatSession)
	authGroup.POST("/chat/sessions/:session_id/escalate", h.EscalateChatSession)
	authGroup.POST("/chat/sessions/:session_id/end", h.EndChatSession)
	authGroup.POST("/chat/sessions/:session_id/messages", h.PostChatMessage)
	authGroup.GET("/chat/jobs/:job_id", h.GetChatJob)

	// Agents
	adminGroup := r.Group("/admin")
	adminGroup.Use(middleware.AuthRequired(cfg.JWTSecret), middleware.AdminRequired())
	adminGroup.GET("/chat/sessions", h.ListAdminSessions)
	adminGroup.GET("/chat/sessions/:session_id", h.GetChatSession)
	adminGroup.POST("/chat/sessions/:session_id/messages", h.PostChatMessage)
	adminGroup.POST("/chat/sessions/:session_id/end", h.EndChatSession)
	return r
}
