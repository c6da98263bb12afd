package observability

import (
    "time"

    "github.com/gin-gonic/gin"
    "go.uber.org/zap"
)

// RequestLogger logs one line per gateway request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
    return func(c *gin.Context) {
        start := time.Now()
        c.Next()

        status := c.Writer.Status()
        path := c.FullPath()
        if path == "" {
            path = c.Request.URL.Path
        }

        level := zap.InfoLevel
        if status >= 500 {
            level = zap.ErrorLevel
        } else if status >= 400 {
            level = zap.WarnLevel
        }
        if ce := logger.Check(level, "http_request"); ce != nil {
            ce.Write(
                zap.String("method", c.Request.Method),
                zap.String("path", path),
                zap.Int("status", status),
                zap.Duration("duration", time.Since(start)),
                zap.String("client_ip", c.ClientIP()),
                zap.Int("bytes", c.Writer.Size()),
            )
        }
    }
}

func RequestMetricsMiddleware() gin.HandlerFunc {
    return func(c *gin.Context) {
        start := time.Now()
        c.Next()

        path := c.FullPath()
        if path == "" {
            path = c.Request.URL.Path
        }

        RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
    }
}
