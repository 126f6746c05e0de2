// Package jobs manages the asynchronous cloud transcode lifecycle: SQLite
// job persistence, provider submission, and webhook-driven completion that
// reassembles outputs into a pinned directory.
package jobs
