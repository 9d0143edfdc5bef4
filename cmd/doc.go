// Package cmd implements the command-line interface for fetchfloww.
//
// This package provides the following commands:
//   - serve: Start the HTTP backend (default when no subcommand is given)
//   - migrate: Apply, roll back or list PostgreSQL migrations
//   - version: Display version information
//
// Flags fall back to environment variables, and a .env file in the working
// directory is loaded before any command runs.
package cmd
