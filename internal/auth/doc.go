// Package auth issues and verifies the bearer tokens accepted by the HTTP
// API.
//
// Tokens are HS256 JWTs carrying a subject and a role. Viewers may open the
// WebSocket change feed; operators may also write registers. Tokens are
// verified by signature and expiry only, there is no session store.
package auth
