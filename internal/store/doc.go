// Package store defines the persistence interfaces for the coordination
// layer and the error values shared by all store implementations.
// Implementations live under internal/platform.
package store
