package common

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const maxActorLength = 120

// ClientActor identifies the caller for rate limiting and report dedup.
// Forwarded headers are trusted as-is, so the proxy in front must overwrite them.
func ClientActor(c *gin.Context) string {
	raw := ""
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		raw = strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if raw == "" {
		raw = strings.TrimSpace(c.GetHeader("X-Real-IP"))
	}
	if raw == "" {
		return "unknown"
	}
	return NormalizeActor(raw)
}

// NormalizeActor keeps [A-Za-z0-9:._-] and truncates to 120 bytes.
func NormalizeActor(raw string) string {
	actor := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ':' || r == '.' || r == '_' || r == '-':
			return r
		}
		return -1
	}, raw)

	if len(actor) > maxActorLength {
		actor = actor[:maxActorLength]
	}
	if actor == "" {
		return "unknown"
	}
	return actor
}
