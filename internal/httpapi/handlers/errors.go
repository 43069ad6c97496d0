package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/rental-chat/internal/chat"
	"github.com/suPer8Hu/rental-chat/internal/common"
	"github.com/suPer8Hu/rental-chat/internal/httpapi/middleware"
)

// failChat maps chat service errors onto the response envelope.
func failChat(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		common.Fail(c, http.StatusNotFound, common.CodeSessionNotFound, "session not found")
	case errors.Is(err, chat.ErrSessionEnded):
		common.Fail(c, http.StatusGone, common.CodeSessionEnded, "session ended")
	case errors.Is(err, chat.ErrInvalidTransition):
		common.Fail(c, http.StatusConflict, common.CodeInvalidTransition, "invalid status transition")
	case errors.Is(err, chat.ErrForbidden):
		common.Fail(c, http.StatusForbidden, common.CodeForbidden, "forbidden")
	case errors.Is(err, chat.ErrEmptyMessage):
		common.Fail(c, http.StatusBadRequest, common.CodeBadParam, "message is empty")
	default:
		log.Error().Err(err).
			Str("op", op).
			Str("request_id", c.GetString(middleware.RequestIDKey)).
			Msg("chat request failed")
		common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "internal error")
	}
}
