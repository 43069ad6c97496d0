package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope is the response body shape shared by every REST endpoint.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Code: 0, Message: "ok", Data: data})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, Envelope{Code: code, Message: msg, Data: nil})
}

// Business error codes.
const (
	CodeInvalidJSON       = 10001
	CodeBadParam          = 10002
	CodeUnauthorized      = 40101
	CodeForbidden         = 40301
	CodeSessionNotFound   = 40004
	CodeRouteNotFound     = 40400
	CodeMethodNotAllowed  = 40500
	CodeInvalidTransition = 40901
	CodeSessionEnded      = 41001
	CodeInternal          = 50001
	CodeEnqueueFailed     = 50002
)
