// Package ipfsnode implements the secondary pinning backend client against a
// self-hosted Kubo node's HTTP API: content add, recursive pin checks, and
// streaming pin-by-identifier.
package ipfsnode
