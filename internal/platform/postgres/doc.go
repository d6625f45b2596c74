// Package postgres implements the store interfaces on PostgreSQL using the
// pgx driver through database/sql. It holds the durable side of the
// coordination layer: task lifecycle records and tenants. Claim and lock
// state lives in Redis (see internal/queue and internal/lock).
package postgres
