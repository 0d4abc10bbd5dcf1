package server

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/krau/picturetagger/config"
	"github.com/krau/picturetagger/metrics"
	"github.com/krau/picturetagger/service"
	"github.com/krau/picturetagger/vision"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

var errUnauthorized = errors.New("unauthorized")

type Server struct {
	cfg     config.Config
	tagger  *service.Tagger
	vision  *vision.Classifier // nil when vision is disabled
	limiter *rate.Limiter      // nil when unlimited
	started time.Time
}

func New(cfg config.Config, tagger *service.Tagger, classifier *vision.Classifier) *Server {
	s := &Server{cfg: cfg, tagger: tagger, vision: classifier, started: time.Now()}
	if cfg.RateLimitRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), max(1, cfg.RateLimitBurst))
	}
	return s
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = s.cfg.MaxUploadBytes()
	r.Use(gin.Recovery(), requestID(), accessLog())

	api := r.Group("/ai/v1")
	api.GET("/health", s.HealthHandler)
	api.POST("/tags/suggest", s.authenticate, s.throttle, s.SuggestHandler)

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	return r
}

func (s *Server) authenticate(c *gin.Context) {
	if err := checkToken(c.GetHeader("Authorization"), s.cfg.Token); err != nil {
		c.AbortWithStatusJSON(401, gin.H{"status": "error", "code": "unauthorized", "message": "authentication failed"})
		return
	}
	c.Next()
}

func (s *Server) throttle(c *gin.Context) {
	if s.limiter != nil && !s.limiter.Allow() {
		metrics.AnalyzeTotal.WithLabelValues("rate_limited").Inc()
		c.AbortWithStatusJSON(429, gin.H{"status": "error", "code": "rate_limited", "message": "too many requests"})
		return
	}
	c.Next()
}

func checkToken(header, expected string) error {
	if expected == "" {
		return nil
	}
	provided := ""
	if len(header) > 7 && header[:7] == "Bearer " {
		provided = header[7:]
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return errUnauthorized
	}
	return nil
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		slog.Info("Request",
			slog.String("request_id", c.GetString("request_id")),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("latency", elapsed),
		)
	}
}
