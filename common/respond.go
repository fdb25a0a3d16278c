package common

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tierpress/errs"
)

type Responder struct {
	logger zerolog.Logger
}

func NewResponder(logger zerolog.Logger) Responder {
	return Responder{logger}
}

func (r Responder) Logger() *zerolog.Logger {
	return &r.logger
}

// WriteError renders an ApiErr with its status. Anything else is logged and
// answered with a bare 500.
func (r Responder) WriteError(c *gin.Context, err error) {
	var apiErr *errs.ApiErr
	if !errors.As(err, &apiErr) {
		r.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("unexpected error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	if apiErr.StatusCode >= http.StatusInternalServerError {
		r.logger.Error().Str("path", c.Request.URL.Path).Msg(apiErr.GetFullError())
		c.JSON(apiErr.StatusCode, gin.H{"error": "internal server error"})
		return
	}

	response := gin.H{"error": apiErr.Message()}
	if apiErr.Field != "" {
		response["field"] = apiErr.Field
	}
	if apiErr.Details != "" {
		response["details"] = apiErr.Details
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		c.Header("Retry-After", strconv.Itoa(apiErr.RetryAfter))
		response["retryAfter"] = apiErr.RetryAfter
	}

	r.logger.Debug().Int("status", apiErr.StatusCode).Str("path", c.Request.URL.Path).Msg(apiErr.Error())
	c.JSON(apiErr.StatusCode, response)
}
