package service

import (
	"context"

	"carelay/internal/models"
	"carelay/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx for verbose logging.
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// messageFields describes msg for a log entry. Text and ids are masked unless
// the context asks for verbose output.
func messageFields(ctx context.Context, msg *models.ExtractedMessage) logrus.Fields {
	if IsVerboseLogging(ctx) {
		return logrus.Fields{
			LogFieldChat:      msg.ChatTitle,
			LogFieldMessageID: msg.ID,
			"text":            msg.Text,
		}
	}
	return logrus.Fields{
		LogFieldChat:      msg.ChatTitle,
		LogFieldMessageID: privacy.MaskMessageID(msg.ID),
		"text":            privacy.MaskMessageText(msg.Text),
	}
}

func requestFields(req models.ForwardRequest) logrus.Fields {
	return logrus.Fields{
		LogFieldRequestID: req.ID,
		LogFieldCA:        req.CA,
		LogFieldTicker:    req.Ticker,
		LogFieldChain:     req.Chain,
		LogFieldChat:      req.ChatTitle,
	}
}
