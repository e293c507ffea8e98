package http

import "github.com/gin-gonic/gin"

// Envelope es la respuesta uniforme {message, data, error}.
type Envelope struct {
	Message string  `json:"message"`
	Data    any     `json:"data"`
	Error   *string `json:"error"`
}

func respondSuccess(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Envelope{
		Message: message,
		Data:    data,
	})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, Envelope{
		Message: message,
		Error:   &message,
	})
}
