// Package errors provides structured error handling for docindexer.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, index storage)
//   - 3XX: Network errors (remote snapshot stores)
//   - 4XX: Validation errors
//   - 5XX: Index operation errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryIndex indicates a failed index operation.
	CategoryIndex Category = "INDEX"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound  = "ERR_201_FILE_NOT_FOUND"
	ErrCodeCorruptIndex  = "ERR_205_CORRUPT_INDEX"
	ErrCodeIndexNotFound = "ERR_207_INDEX_NOT_FOUND"
	ErrCodeIndexExists   = "ERR_208_INDEX_EXISTS"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidQuery      = "ERR_403_INVALID_QUERY"
	ErrCodeUnsupportedSearch = "ERR_407_UNSUPPORTED_SEARCH"

	// Index operation errors (500-599)
	ErrCodeInternal           = "ERR_501_INTERNAL"
	ErrCodeSearchFailed       = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexingFailed     = "ERR_505_INDEXING_FAILED"
	ErrCodeRemovalFailed      = "ERR_506_REMOVAL_FAILED"
	ErrCodeFlushFailed        = "ERR_507_FLUSH_FAILED"
	ErrCodeCompactFailed      = "ERR_508_COMPACT_FAILED"
	ErrCodeConstructionFailed = "ERR_509_CONSTRUCTION_FAILED"
	ErrCodePropertiesFailed   = "ERR_510_PROPERTIES_FAILED"
	ErrCodeIndexClosed        = "ERR_511_INDEX_CLOSED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryIndex
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryIndex
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeConstructionFailed:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable:
		return true
	default:
		return false
	}
}
