package api

import (
	"errors"
	"net/http"

	"github.com/book-expert/pronunciation-service/internal/core"
	"github.com/book-expert/pronunciation-service/internal/resilience"
	"github.com/gin-gonic/gin"
)

// ErrUnavailable is returned by routes whose backing component is not configured.
var ErrUnavailable = errors.New("feature is not configured")

// statusFor maps an error to an HTTP status by its class. A few client
// errors and an open breaker get more specific codes.
func statusFor(err error) int {
	var conversion *core.ConversionError

	switch {
	case errors.Is(err, core.ErrAudioTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrUnsupportedAudio):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &conversion):
		return http.StatusUnprocessableEntity
	case core.ClassOf(err) == core.ClassClient:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
}
