package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"smlgpt/internal/apperrors"
)

const (
	requestIDHeader     = "X-Request-ID"
	requestIDContextKey = "request_id"
)

var (
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
)

func init() {
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smlgpt",
		Name:      "http_requests_total",
		Help:      "HTTP requests partitioned by route and status",
	}, []string{"method", "route", "status"})
	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "smlgpt",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
	prometheus.MustRegister(httpRequests, httpDuration)
}

// RequestID reuses an incoming X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDContextKey, id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// RequestIDFromContext returns the id set by RequestID.
func RequestIDFromContext(c *gin.Context) string {
	return c.GetString(requestIDContextKey)
}

// Recovery turns a panic into the 500 envelope.
func Recovery(development bool) gin.HandlerFunc {
	log := zap.S().Named("api")
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("panic recovered", "request_id", RequestIDFromContext(c), "path", c.Request.URL.Path, "panic", r)
				status, body := apperrors.Envelope(apperrors.Internal("Internal server error", fmt.Errorf("panic: %v", r)), development)
				c.AbortWithStatusJSON(status, body)
			}
		}()
		c.Next()
	}
}

// Logger writes one line per request.
func Logger() gin.HandlerFunc {
	log := zap.S().Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []any{
			"request_id", RequestIDFromContext(c),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Errorw("request", fields...)
		case status >= http.StatusBadRequest:
			log.Warnw("request", fields...)
		default:
			log.Infow("request", fields...)
		}
	}
}

// Metrics records request counts and latency by route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// CORS answers preflight requests and decorates responses for origin.
func CORS(origin string) gin.HandlerFunc {
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return func(c *gin.Context) {
		passed := false
		next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
			c.Next()
		})
		handler.Handler(next).ServeHTTP(c.Writer, c.Request)
		if !passed {
			// preflight, answered by cors
			c.AbortWithStatus(http.StatusNoContent)
		}
	}
}

// ErrorHandler renders the last error a handler attached with c.Error.
func ErrorHandler(development bool) gin.HandlerFunc {
	log := zap.S().Named("api")
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		status, body := apperrors.Envelope(err, development)
		if status >= http.StatusInternalServerError {
			log.Errorw("request failed", "request_id", RequestIDFromContext(c), "path", c.Request.URL.Path, "error", err)
		}
		c.JSON(status, body)
	}
}

// RateLimit rejects clients over the limiter's budget with 429.
func RateLimit(limiter Limiter) gin.HandlerFunc {
	log := zap.S().Named("api")
	return func(c *gin.Context) {
		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			// fail open
			log.Warnw("rate limiter unavailable", "error", err)
			c.Next()
			return
		}
		if !allowed {
			if retryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
			}
			_ = c.Error(apperrors.RateLimited("Too many requests from this IP, please try again later."))
			c.Abort()
			return
		}
		c.Next()
	}
}
