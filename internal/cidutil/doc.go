// Package cidutil normalizes content identifiers between CID versions and
// computes the local ground-truth hash used for idempotent pinning decisions.
package cidutil
