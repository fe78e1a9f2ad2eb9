// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED dequeue, conditional-UPDATE cancellation and
// recurring locks, versioned migrations under a configurable schema.
package postgres
