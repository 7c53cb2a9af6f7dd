// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Upload constants
const (
	// MaxImageUploadSize is the maximum face image upload size in bytes (10MB)
	MaxImageUploadSize = 10 << 20

	// MaxJSONBodySize is the maximum size of a JSON request body
	MaxJSONBodySize = 1 << 20
)

// Audit constants
const (
	// DefaultAuditLimit is the number of audit entries returned when no limit is given
	DefaultAuditLimit = 100

	// MaxAuditLimit caps the audit entries returned by one request
	MaxAuditLimit = 1000
)

// Duplicate scan constants
const (
	// DefaultScanConcurrency is the number of parallel workers for the duplicate scan
	DefaultScanConcurrency = 4
)

// Identification constants
const (
	// DefaultIdentifyLimit is the number of candidates considered when no limit is given
	DefaultIdentifyLimit = 5

	// MaxIdentifyLimit caps the candidates considered by one identify request
	MaxIdentifyLimit = 50
)
