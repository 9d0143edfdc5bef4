// Package logging provides structured logging utilities for the fetchfloww backend.
//
// Logging is done with the standard library's slog package. This package
// centralizes handler setup and attribute naming so every route group logs
// the same keys.
//
// # Usage Patterns
//
// Create a logger for a route group:
//
//	logger := logging.WithGroup(slog.Default(), "attachments")
//	logger.Info("sync finished", logging.Status(logging.StatusSuccess))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("user signed in", logging.UserHash(email))
//
// # Security Considerations
//
//   - User emails are hashed to prevent PII leakage while allowing correlation
//   - OAuth and session tokens are never logged directly
package logging
