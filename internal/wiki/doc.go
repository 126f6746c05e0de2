// Package wiki records pinned content identifiers on submission pages of a
// MediaWiki instance. All calls are best-effort from the caller's point of
// view.
package wiki
