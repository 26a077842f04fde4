// Package server assembles the HTTP surface: routing, CORS, security
// headers, request IDs, rate limiting, and audit logging.
package server
