// Package api exposes the HTTP transport: intake routes, job status, the
// provider webhook, and the server-sent progress stream.
package api
