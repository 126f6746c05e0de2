// Package livepeer implements the cloud transcoding provider client: job
// submission with per-rendition profiles and authenticated output retrieval.
package livepeer
