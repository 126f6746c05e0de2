// Package config loads, normalizes, and validates Trestle configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and validates backend endpoints before the
// daemon starts. The Config type centralizes every knob the daemon and CLI
// need: staging directories, pinning backend credentials, transcode policy,
// and the optional cloud provider and wiki side channel.
package config
