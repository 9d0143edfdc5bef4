// Package google holds the Google OAuth client configuration and the
// per-user credential handling shared by the route groups: encrypting tokens
// at rest, refreshing expired access tokens and writing refreshed tokens back
// to storage.
package google
