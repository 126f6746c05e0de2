// Package logging wires log/slog with the console and JSON handlers the daemon
// uses, plus the attribute helpers shared across components.
package logging
