// Package pinata implements the primary pinning backend client: file index
// lookups, multipart uploads, and pin-by-reference against the Pinata v3 API.
package pinata
