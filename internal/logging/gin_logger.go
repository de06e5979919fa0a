// Package logging configures logrus for the ChatFlow backend and provides
// Gin middleware for structured HTTP request logging and panic recovery.
package logging

import (
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const skipGinLogKey = "__gin_skip_request_logging__"

// sensitiveQueryParams lists query parameters whose values must never appear
// in log output. The storage sync endpoint accepts base64 credentials via
// the creds parameter.
var sensitiveQueryParams = map[string]bool{
	"creds": true,
	"key":   true,
	"token": true,
}

// maskSensitiveQuery redacts values of known sensitive query parameters
// while keeping the rest of the query string readable.
func maskSensitiveQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "<unparseable-query>"
	}
	changed := false
	for name := range values {
		if sensitiveQueryParams[strings.ToLower(name)] {
			values.Set(name, "***")
			changed = true
		}
	}
	if !changed {
		return rawQuery
	}
	return values.Encode()
}

// GinLogrusLogger returns a Gin middleware handler that logs HTTP requests
// and responses using logrus. It captures method, path, status code, latency
// and client IP, and attaches structured fields for downstream analysis.
// A request ID is derived from the X-Request-Id header or generated, and is
// echoed back on the response.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := maskSensitiveQuery(c.Request.URL.RawQuery)

		requestID := c.Request.Header.Get("X-Request-Id")
		if strings.TrimSpace(requestID) == "" {
			requestID = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-Id", requestID)

		c.Next()

		if shouldSkipGinRequestLogging(c) {
			return
		}

		if raw != "" {
			path = path + "?" + raw
		}

		latency := time.Since(start)
		if latency > time.Minute {
			latency = latency.Truncate(time.Second)
		} else {
			latency = latency.Truncate(time.Millisecond)
		}

		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method

		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()
		timestamp := time.Now().Format("2006/01/02 - 15:04:05")
		logLine := fmt.Sprintf("[GIN] %s | %3d | %13v | %15s | %-7s \"%s\"", timestamp, statusCode, latency, clientIP, method, path)
		if errorMessage != "" {
			logLine = logLine + " | " + errorMessage
		}

		entry := log.WithFields(log.Fields{
			"status":     statusCode,
			"latency_ms": latency.Milliseconds(),
			"client_ip":  clientIP,
			"method":     method,
			"path":       path,
			"request_id": requestID,
		})
		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(logLine)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(logLine)
		default:
			entry.Info(logLine)
		}
	}
}

// GinLogrusRecovery returns a Gin middleware handler that recovers from
// panics and logs them with stack traces, then returns a 500 response.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.WithFields(log.Fields{
			"panic": recovered,
			"stack": string(debug.Stack()),
			"path":  c.Request.URL.Path,
		}).Error("recovered from panic")

		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

// SkipGinRequestLogging marks the provided Gin context so that
// GinLogrusLogger skips emitting a log line for the associated request.
// Streaming chat responses use this to avoid double-logging.
func SkipGinRequestLogging(c *gin.Context) {
	if c == nil {
		return
	}
	c.Set(skipGinLogKey, true)
}

func shouldSkipGinRequestLogging(c *gin.Context) bool {
	if c == nil {
		return false
	}
	val, exists := c.Get(skipGinLogKey)
	if !exists {
		return false
	}
	flag, ok := val.(bool)
	return ok && flag
}
