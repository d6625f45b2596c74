// Package api implements the HTTP surface of the gateway: authentication,
// generation task submission and lifecycle queries, queue statistics and the
// notification channel's operational endpoints.
package api
