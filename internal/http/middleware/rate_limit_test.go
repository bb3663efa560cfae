package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/yungbote/workspace-core/internal/requestdata"
)

func TestRateLimitPerUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-User"); id != "" {
			rd := &requestdata.RequestData{UserID: uuid.MustParse(id)}
			c.Request = c.Request.WithContext(requestdata.WithRequestData(c.Request.Context(), rd))
		}
		c.Next()
	})
	r.Use(RateLimit(rate.Limit(0.001), 2))
	r.POST("/token", func(c *gin.Context) { c.Status(http.StatusOK) })

	var last *httptest.ResponseRecorder
	hit := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/token", nil)
		req.Header.Set("X-User", user)
		last = httptest.NewRecorder()
		r.ServeHTTP(last, req)
		return last.Code
	}

	alice, bob := uuid.NewString(), uuid.NewString()
	for i := 0; i < 2; i++ {
		if code := hit(alice); code != http.StatusOK {
			t.Fatalf("request %d: want=200 got=%d", i, code)
		}
	}
	if code := hit(alice); code != http.StatusTooManyRequests {
		t.Fatalf("over burst: want=429 got=%d", code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Fatalf("429 without Retry-After")
	}
	if code := hit(bob); code != http.StatusOK {
		t.Fatalf("other user: want=200 got=%d", code)
	}
}
