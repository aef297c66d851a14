package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/autra-ai/marketplace/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup initializes the global logger based on configuration
func Setup(cfg config.LoggingConfig, env, service string) {
	SetupWithWriter(cfg, env, service, os.Stdout)
}

// SetupWithWriter is Setup with an explicit destination
func SetupWithWriter(cfg config.LoggingConfig, env, service string, w io.Writer) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	zerolog.TimeFieldFormat = time.RFC3339Nano

	output := w
	if cfg.Format != "json" && env != "production" {
		output = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: "15:04:05",
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// NewLogger creates a new logger with additional context
func NewLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

type requestIDKey struct{}

// ContextWithRequestID returns a copy of ctx carrying the request id
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request id stored in ctx, or ""
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestLogger is a Gin middleware for structured request logging
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		if status >= 500 {
			event = log.Error()
		} else if status >= 400 {
			event = log.Warn()
		}

		if userID, ok := c.Get("user_id"); ok {
			event = event.Interface("user_id", userID)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}

		event.
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP request")
	}
}

// LogTransaction logs a ledger status change
func LogTransaction(requestID, transactionID, txType, from, to string, amount, fee string) {
	log.Info().
		Str("request_id", requestID).
		Str("transaction_id", transactionID).
		Str("type", txType).
		Str("from", from).
		Str("to", to).
		Str("amount", amount).
		Str("platform_fee", fee).
		Msg("Transaction event")
}

// LogReview logs a review mutation together with the agent's new aggregate
func LogReview(action, reviewID, agentID, averageRating string, totalReviews int) {
	log.Info().
		Str("action", action).
		Str("review_id", reviewID).
		Str("agent_id", agentID).
		Str("average_rating", averageRating).
		Int("total_reviews", totalReviews).
		Msg("Review event")
}

// LogTrustScore logs a persisted trust score change
func LogTrustScore(userID, userType string, previous, current int) {
	event := log.Debug()
	if previous != current {
		event = log.Info()
	}
	event.
		Str("user_id", userID).
		Str("user_type", userType).
		Int("previous", previous).
		Int("current", current).
		Msg("Trust score recomputed")
}

// LogSecurityEvent logs security-related events
func LogSecurityEvent(eventType, userID, clientIP, details string) {
	log.Warn().
		Str("event_type", eventType).
		Str("user_id", userID).
		Str("client_ip", clientIP).
		Str("details", details).
		Msg("Security event")
}

// LogError logs an error with context
func LogError(err error, requestID, component, operation string) {
	log.Error().
		Err(err).
		Str("request_id", requestID).
		Str("component", component).
		Str("operation", operation).
		Msg("Error occurred")
}
