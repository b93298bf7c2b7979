package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorImportCancelled is returned by the commit engine when a cancellation
// request is observed between records.
var ErrorImportCancelled = errors.New("import cancelled")
