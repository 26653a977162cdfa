// Package server exposes the prediction gateway over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/ineyio/pitchiq"
)

// Predictor runs one prediction. *pitchiq.Gateway implements it.
type Predictor interface {
	Predict(ctx context.Context, req pitchiq.PredictionRequest) (pitchiq.PredictionResult, error)
}

// Server wires the HTTP routes to a Predictor.
type Server struct {
	engine         *gin.Engine
	predictor      Predictor
	serviceName    string
	logger         log.FieldLogger
	limiter        *LimiterStore
	pool           *slotPool
	acquireTimeout time.Duration
	trustedProxies []string
}

// Option configures a Server.
type Option func(*Server)

// WithServiceName sets the name reported by GET /.
func WithServiceName(name string) Option {
	return func(s *Server) { s.serviceName = name }
}

// WithLogger sets the access and panic logger.
func WithLogger(l log.FieldLogger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTrustedProxies lists the proxy IPs or CIDRs whose X-Forwarded-For
// is believed. By default none are, and clients are keyed by the peer address.
func WithTrustedProxies(proxies ...string) Option {
	return func(s *Server) { s.trustedProxies = proxies }
}

// WithThrottle enables the per-client token bucket on /predict.
func WithThrottle(store *LimiterStore) Option {
	return func(s *Server) { s.limiter = store }
}

// WithConcurrency caps simultaneous /predict handlers. A max of 0 or less
// disables the cap.
func WithConcurrency(max int, acquireTimeout time.Duration) Option {
	return func(s *Server) {
		if max <= 0 {
			s.pool = nil
			return
		}
		s.pool = newSlotPool(max)
		s.acquireTimeout = acquireTimeout
	}
}

// New builds the gin engine for p.
func New(p Predictor, opts ...Option) *Server {
	s := &Server{
		predictor:   p,
		serviceName: "PitchIQ",
		logger:      log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	e := gin.New()
	if err := e.SetTrustedProxies(s.trustedProxies); err != nil {
		s.logger.WithError(err).Warn("server: invalid trusted proxies, trusting none")
		_ = e.SetTrustedProxies(nil)
	}
	e.Use(requestID(), s.accessLog(), s.recovery())

	e.GET("/", s.handleRoot)
	e.GET("/health", s.handleHealth)

	chain := []gin.HandlerFunc{}
	if s.limiter != nil {
		chain = append(chain, s.throttle())
	}
	if s.pool != nil {
		chain = append(chain, s.concurrency())
	}
	chain = append(chain, s.handlePredict)
	e.POST("/predict", chain...)

	e.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
	})

	s.engine = e
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// StartJanitor starts the throttle cleanup loop, if throttling is enabled.
func (s *Server) StartJanitor(ctx context.Context) {
	if s.limiter != nil {
		s.limiter.StartJanitor(ctx)
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": s.serviceName + " server running"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// predictBody uses pointers so that an empty string is accepted while a
// missing or null field is rejected.
type predictBody struct {
	UserID   *string `json:"user_id" binding:"required"`
	HomeTeam *string `json:"homeTeam" binding:"required"`
	AwayTeam *string `json:"awayTeam" binding:"required"`
}

var bodyFieldNames = map[string]string{
	"UserID":   "user_id",
	"HomeTeam": "homeTeam",
	"AwayTeam": "awayTeam",
}

func (s *Server) handlePredict(c *gin.Context) {
	var body predictBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": bindDetail(err)})
		return
	}

	result, err := s.predictor.Predict(c.Request.Context(), pitchiq.PredictionRequest{
		UserID:   *body.UserID,
		HomeTeam: *body.HomeTeam,
		AwayTeam: *body.AwayTeam,
	})
	if err != nil {
		var perr *pitchiq.PredictError
		if errors.As(err, &perr) {
			c.JSON(perr.StatusCode(), gin.H{"detail": perr.Detail()})
			return
		}
		s.logger.WithError(err).WithField("request_id", c.GetString(ctxRequestID)).Error("server: predict failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	c.Data(http.StatusOK, "application/json", result.Raw)
}

func bindDetail(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		missing := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			name := bodyFieldNames[fe.Field()]
			if name == "" {
				name = fe.Field()
			}
			missing = append(missing, name)
		}
		return fmt.Sprintf("field required: %s", strings.Join(missing, ", "))
	}
	return fmt.Sprintf("invalid request body: %v", err)
}
