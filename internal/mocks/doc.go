// Package mocks provides test doubles for the store and service interfaces.
// The memory-backed stores enforce the same semantics as their production
// counterparts (transition table, not-found sentinels) so handler and
// service tests exercise real behavior without a database.
package mocks
