// Package task ties the coordination primitives together: the lifecycle
// service over the task store, the process-local cancellation registry, the
// claim worker that pulls from the distributed queue, and the janitor that
// sweeps orphaned claims and aged records.
package task
