package common

import (
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"tierpress/errs"
)

// RequestOrigin returns the scheme://host the browser declared, taken from the
// Origin header or, failing that, from the Referer.
func RequestOrigin(c *gin.Context) string {
	if origin := c.GetHeader("Origin"); origin != "" && origin != "null" {
		return strings.TrimSuffix(origin, "/")
	}
	if referer := c.GetHeader("Referer"); referer != "" {
		if u, err := url.Parse(referer); err == nil && u.Scheme != "" && u.Host != "" {
			return u.Scheme + "://" + u.Host
		}
	}
	return ""
}

// RequireSameOrigin rejects state-changing requests whose declared origin is not
// the application origin. Requests without any origin information are rejected too.
func RequireSameOrigin(appOrigin string) gin.HandlerFunc {
	responder := NewResponder(log.With().Str("handlerName", "RequireSameOrigin").Logger())
	expected := strings.TrimSuffix(appOrigin, "/")

	return func(c *gin.Context) {
		origin := RequestOrigin(c)
		if origin == "" || !strings.EqualFold(origin, expected) {
			responder.WriteError(c, errs.NewCrossOriginError(origin))
			c.Abort()
			return
		}
		c.Next()
	}
}
