package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Headers describing how a catalogue read was served. cors exposes both.
const (
	CacheHitHeader = "X-Cache-Hit"
	CacheKeyHeader = "X-Cache-Key"
)

const readStartedKey = "read_started_at"

// WithResponseMeta stamps the request start so read handlers can report
// their processing time in the envelope.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(readStartedKey, time.Now())
		c.Next()
	}
}

// CacheRead records whether the read cache answered a request for scope, a
// course key such as courses:summary:COMP1511. It sets the X-Cache headers
// and returns the meta block for the response.
func CacheRead(c *gin.Context, scope string, hit bool) map[string]interface{} {
	meta := map[string]interface{}{"cache_hit": hit}
	if c == nil {
		return meta
	}
	c.Header(CacheHitHeader, strconv.FormatBool(hit))
	if scope != "" {
		c.Header(CacheKeyHeader, scope)
		meta["cache_key"] = scope
	}
	if value, exists := c.Get(readStartedKey); exists {
		if started, ok := value.(time.Time); ok {
			meta["processing_time_ms"] = time.Since(started).Milliseconds()
		}
	}
	return meta
}
