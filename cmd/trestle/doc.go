// Command trestle is the operator CLI for a running trestled daemon: job
// listing and inspection, pinning, and configuration helpers.
package main
