package common

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"tierpress/models"
)

func TestNormalizeActor(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"203.0.113.7", "203.0.113.7"},
		{"2001:db8::1", "2001:db8::1"},
		{"10.0.0.1\r\nINJECTED", "10.0.0.1INJECTED"},
		{"<script>", "script"},
		{"   ", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeActor(tt.input))
		})
	}

	long := strings.Repeat("a", 300)
	assert.Len(t, NormalizeActor(long), 120)
}

func TestClientActor(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		headers  map[string]string
		expected string
	}{
		{"forwarded first entry", map[string]string{"X-Forwarded-For": "198.51.100.2, 10.0.0.1"}, "198.51.100.2"},
		{"real ip fallback", map[string]string{"X-Real-IP": "198.51.100.9"}, "198.51.100.9"},
		{"nothing", map[string]string{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request, _ = http.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, ClientActor(c))
		})
	}
}

func TestRequireSameOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/thing", RequireSameOrigin("https://app.example.com"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	tests := []struct {
		name     string
		origin   string
		referer  string
		expected int
	}{
		{"matching origin", "https://app.example.com", "", http.StatusOK},
		{"matching referer", "", "https://app.example.com/p/post", http.StatusOK},
		{"foreign origin", "https://evil.example.net", "", http.StatusForbidden},
		{"missing origin", "", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("POST", "/api/thing", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.referer != "" {
				req.Header.Set("Referer", tt.referer)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.expected, w.Code)
		})
	}
}

func TestSubdomainHandler(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.Path
	})
	handler := SubdomainHandler("tierpress.test", next)

	req := httptest.NewRequest("GET", "http://notes.tierpress.test:8080/hello", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "/@/notes/hello", seen)

	req = httptest.NewRequest("GET", "http://www.tierpress.test/hello", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "/hello", seen)

	req = httptest.NewRequest("GET", "http://tierpress.test/hello", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "/hello", seen)
}

func TestIsPlatformAdmin(t *testing.T) {
	assert.False(t, IsPlatformAdmin(nil, nil))
	assert.True(t, IsPlatformAdmin(&models.User{IsAdmin: true}, nil))
	assert.True(t, IsPlatformAdmin(&models.User{Email: "Ops@Example.com"}, []string{"ops@example.com"}))
	assert.False(t, IsPlatformAdmin(&models.User{Email: "reader@example.com"}, []string{"ops@example.com"}))
}
