package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/yungbote/workspace-core/internal/http/response"
	"github.com/yungbote/workspace-core/internal/requestdata"
)

// RateLimit applies a token bucket per authenticated user, falling back to
// the client IP. Idle buckets are forgotten after ten minutes.
func RateLimit(limit rate.Limit, burst int) gin.HandlerFunc {
	type entry struct {
		limiter *rate.Limiter
		seen    time.Time
	}
	var (
		mu      sync.Mutex
		buckets = map[string]*entry{}
		swept   = time.Now()
	)
	const idle = 10 * time.Minute

	return func(c *gin.Context) {
		key := c.ClientIP()
		if rd := requestdata.GetRequestData(c.Request.Context()); rd != nil && rd.UserID != uuid.Nil {
			key = rd.UserID.String()
		}
		now := time.Now()

		mu.Lock()
		if now.Sub(swept) > idle {
			for k, e := range buckets {
				if now.Sub(e.seen) > idle {
					delete(buckets, k)
				}
			}
			swept = now
		}
		e, ok := buckets[key]
		if !ok {
			e = &entry{limiter: rate.NewLimiter(limit, burst)}
			buckets[key] = e
		}
		e.seen = now
		r := e.limiter.ReserveN(now, 1)
		allowed := r.OK() && r.DelayFrom(now) == 0
		if r.OK() && !allowed {
			wait := r.DelayFrom(now)
			r.CancelAt(now)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
		mu.Unlock()

		if !allowed {
			response.RespondError(c, http.StatusTooManyRequests, "rate_limited", errRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}
