// Package services defines the shared error taxonomy for pipeline components.
//
// Errors are tagged with sentinel markers (validation, not-found, timeout,
// external tool, transient) so the API layer can map failures to responses
// without string matching.
package services
