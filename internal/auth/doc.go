// Package auth is the sign-in route group.
//
// It runs the Google OAuth authorization-code flow with PKCE:
//
//	GET  /auth/login     redirect to Google consent
//	GET  /auth/callback  exchange the code, upsert the user, issue a session
//	GET  /auth/me        profile of the signed-in user
//	POST /auth/logout    clear the session cookie
//
// Sessions are HS256 JWTs delivered as an HttpOnly cookie and also accepted
// as a Bearer token. RequireSession protects the other route groups.
// Authorization state (the OAuth state value and PKCE verifier) lives in a
// StateStore, in memory or in Redis, and can be consumed exactly once.
package auth
