// Package token issues and verifies access/refresh JWT pairs and tracks the
// single live refresh token of each subject.
//
// Refresh tokens are written to the cache and to the durable store. Reads go
// to the cache first and fall back to the durable store, which also enforces
// expiry. Cache failures degrade to durable-only operation and are logged,
// never returned.
package token
