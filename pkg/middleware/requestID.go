package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"marketgate.dev/pkg/logger"
)

const headerRequestID = "X-Request-Id"

// ReqID stamps every REST request with an id, propagated through the gin
// context and the request's context.Context so logger.Info/Error can attach
// it as a trace_id.
func ReqID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(headerRequestID, rid)
		ctx := context.WithValue(c.Request.Context(), logger.TraceIDKey, rid)
		c.Request = c.Request.WithContext(ctx)
		c.Header(headerRequestID, rid)
		c.Next()
	}
}

// RequestIDFromCtx reads back the id ReqID stamped onto this request.
func RequestIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get(headerRequestID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
