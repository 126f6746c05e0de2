// Package staging manages per-request scratch subtrees under the shared
// staging root, plus the startup sweep for subtrees orphaned by crashes.
package staging
