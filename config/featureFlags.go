package config

import (
	"os"
	"strings"
)

// StrictBatchImmutability locks a batch's mapping configuration after the
// first successful configure call; reconfiguring requires a fresh batch.
//
// Set via env:
// - STRICT_BATCH_IMMUTABLE=true
func StrictBatchImmutability() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_BATCH_IMMUTABLE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// InlineImportRuns forces import runs to execute in-process even when a
// Pub/Sub project is configured. Useful for local development.
//
// Set via env:
// - TALLY_IMPORT_INLINE=true
func InlineImportRuns() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("TALLY_IMPORT_INLINE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
