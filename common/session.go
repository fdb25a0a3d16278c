package common

import (
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"tierpress/errs"
	"tierpress/models"
)

const SessionUserKey = "user_id"

// CurrentUserID returns the signed-in user id, or nil for anonymous viewers.
func CurrentUserID(c *gin.Context) *int {
	if v, ok := c.Get(SessionUserKey); ok {
		if id, ok := v.(int); ok {
			return &id
		}
	}

	session := sessions.Default(c)
	switch v := session.Get(SessionUserKey).(type) {
	case int:
		return &v
	case int64:
		id := int(v)
		return &id
	}
	return nil
}

// RequireUser answers 401 for anonymous requests and stores the id in the context.
func RequireUser() gin.HandlerFunc {
	responder := NewResponder(log.With().Str("handlerName", "RequireUser").Logger())
	return func(c *gin.Context) {
		userID := CurrentUserID(c)
		if userID == nil {
			responder.WriteError(c, errs.NewUnauthorizedError())
			c.Abort()
			return
		}
		c.Set(SessionUserKey, *userID)
		c.Next()
	}
}

// IsPlatformAdmin accepts either the stored flag or membership in the configured list.
func IsPlatformAdmin(user *models.User, adminEmails []string) bool {
	if user == nil {
		return false
	}
	if user.IsAdmin {
		return true
	}
	email := strings.ToLower(strings.TrimSpace(user.Email))
	for _, e := range adminEmails {
		if e == email {
			return true
		}
	}
	return false
}
