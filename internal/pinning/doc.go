// Package pinning coordinates idempotent, content-addressed replication
// across the primary pinning service and the secondary self-hosted node.
package pinning
