package server

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	// HeaderRequestID carries the request correlation id in both directions.
	HeaderRequestID = "X-Request-ID"

	ctxRequestID = "request_id"

	detailThrottled = "Too many requests. Slow down."
	detailBusy      = "Server busy. Try again later."
)

// requestID reuses the caller's X-Request-ID or mints a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		c.Set(ctxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := s.logger.WithFields(log.Fields{
			"request_id": c.GetString(ctxRequestID),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.logger.WithFields(log.Fields{
			"request_id": c.GetString(ctxRequestID),
			"panic":      recovered,
		}).Error("server: panic while handling request")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": http.StatusText(http.StatusInternalServerError)})
	})
}

// throttle applies the per-client token bucket. Clients are keyed by IP.
func (s *Server) throttle() gin.HandlerFunc {
	return func(c *gin.Context) {
		lim := s.limiter.Get(c.ClientIP())

		r := lim.Reserve()
		if !r.OK() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": detailThrottled})
			return
		}
		if delay := r.Delay(); delay > 0 {
			r.Cancel()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": detailThrottled})
			return
		}
		c.Next()
	}
}

// concurrency caps in-flight handlers. Without an acquire timeout it waits
// until the client goes away.
func (s *Server) concurrency() gin.HandlerFunc {
	return func(c *gin.Context) {
		release, ok := s.acquire(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"detail": detailBusy})
			return
		}
		defer release()

		c.Next()
	}
}

func (s *Server) acquire(ctx context.Context) (func(), bool) {
	if s.acquireTimeout <= 0 {
		return s.pool.Acquire(ctx)
	}
	acqCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()
	return s.pool.Acquire(acqCtx)
}
