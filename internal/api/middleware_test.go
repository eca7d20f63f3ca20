package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestNewRateLimiter_FractionalRateStillAdmitsFirstRequest(t *testing.T) {
	// A sub-1 RPS config truncates rps*2 to a zero burst, which would
	// reject every request before the rate even applies.
	rps := 0.3
	rl := NewRateLimiter(rps, int(rps*2))

	assert.True(t, rl.GetLimiter("key-1").Allow())
	assert.False(t, rl.GetLimiter("key-1").Allow(), "second request must wait for the refill")
}

func TestRateLimitMiddleware_RejectsOverLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RateLimitMiddleware(NewRateLimiter(0.0001, 1)))
	router.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
