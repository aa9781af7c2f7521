package service

// Logging Standards for carelay
//
// This file defines standard field names, log levels, and patterns
// to ensure consistent logging across the application.

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	LogFieldCA        = "ca"
	LogFieldTicker    = "ticker"
	LogFieldChain     = "chain"
	LogFieldChat      = "chat"
	LogFieldMessageID = "message_id"
	LogFieldRequestID = "request_id"

	// Service identifiers
	LogFieldComponent = "component"
	LogFieldOperation = "operation"
	LogFieldContext   = "context" // "background" or "page"

	// Event context
	LogFieldMessageType = "message_type"
	LogFieldDestination = "destination"
	LogFieldOutcome     = "outcome"
	LogFieldSource      = "source" // "scan" or "monitor"

	// Performance metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldPass     = "pass"

	// Error context
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
)

// Log Level Usage Guidelines
//
// DEBUG: per-message and per-page-call detail. Message text only in verbose mode.
//
// INFO: startup/shutdown, scan cycles that found something, forwards sent,
//   settings changes.
//
// WARN: retryable problems. Page unavailable, stale forward dropped,
//   destination missing, persisted flag reconciled at startup.
//
// ERROR: failed operations that lose work. Store writes, a forward that
//   was popped without being sent.

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Completed operations: "Completed [operation]"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"

// Example Usage:
//
// logger.WithFields(logrus.Fields{
//     LogFieldCA:     req.CA,
//     LogFieldChain:  req.Chain,
//     LogFieldChat:   req.ChatTitle,
//     LogFieldSource: "scan",
// }).Info("Queued contract address")
