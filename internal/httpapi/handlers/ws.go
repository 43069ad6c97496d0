package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/rental-chat/internal/httpapi/middleware"
)

// ChatWS upgrades to the message channel. Room membership starts empty; the
// client sends join_session after every connect.
func (h *Handler) ChatWS(c *gin.Context) {
	ident, _ := middleware.IdentityFrom(c)

	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		log.Debug().Err(err).Str("request_id", c.GetString(middleware.RequestIDKey)).Msg("ws upgrade")
		return
	}
	h.Hub.ServeConn(c.Request.Context(), conn, ident)
}
