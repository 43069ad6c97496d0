package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/suPer8Hu/rental-chat/internal/chat"
	"github.com/suPer8Hu/rental-chat/internal/common"
	"github.com/suPer8Hu/rental-chat/internal/config"
	"github.com/suPer8Hu/rental-chat/internal/realtime"
)

type Handler struct {
	Cfg      config.Config
	ChatSvc  *chat.Service
	Hub      *realtime.Hub
	Upgrader websocket.Upgrader
}

func NewHandler(cfg config.Config, svc *chat.Service, hub *realtime.Hub) *Handler {
	return &Handler{
		Cfg:     cfg,
		ChatSvc: svc,
		Hub:     hub,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the token, not the origin, authenticates the socket
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}
