package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Artifact & Compilation errors
// 13000-13999: Sandbox & Execution errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300
	InvalidFormat    ErrorCode = 10301
	InvalidValue     ErrorCode = 10302
	ConfigInvalid    ErrorCode = 10303

	// ========== Artifact & Compilation Errors (11000-11999) ==========

	// Sources (11000-11099)
	InvalidSource  ErrorCode = 11000
	SourceTooLarge ErrorCode = 11001

	// Compilation (11100-11199)
	CompilationFailed    ErrorCode = 11100
	CompilerUnavailable  ErrorCode = 11101
	ArtifactDecodeFailed ErrorCode = 11102
	ArtifactEncodeFailed ErrorCode = 11103

	// ========== Sandbox & Execution Errors (13000-13999) ==========

	// Run setup (13300-13399)
	InvalidRunRequest ErrorCode = 13300
	ClassNotFound     ErrorCode = 13301
	MethodNotFound    ErrorCode = 13302
	UnsafePermission  ErrorCode = 13303
	InvalidUnsafeType ErrorCode = 13304
	PluginFailed      ErrorCode = 13305

	// Run execution (13400-13499)
	SandboxSystemError ErrorCode = 13400
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",

	// Validation
	ValidationFailed: "Validation failed",
	InvalidFormat:    "Invalid format",
	InvalidValue:     "Invalid value",
	ConfigInvalid:    "Invalid configuration",

	// Sources
	InvalidSource:  "Invalid source",
	SourceTooLarge: "Source is too large",

	// Compilation
	CompilationFailed:    "Compilation failed",
	CompilerUnavailable:  "Compiler unavailable",
	ArtifactDecodeFailed: "Failed to decode artifact",
	ArtifactEncodeFailed: "Failed to encode artifact",

	// Run setup
	InvalidRunRequest: "Invalid run request",
	ClassNotFound:     "Entry class not found",
	MethodNotFound:    "Entry method not found",
	UnsafePermission:  "Requested permission can never be granted",
	InvalidUnsafeType: "Unsafe exception is not a throwable",
	PluginFailed:      "Execution plugin failed",

	// Run execution
	SandboxSystemError: "Sandbox system error",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return http.StatusOK
	case c == NotFound:
		return http.StatusNotFound
	case c == TooManyRequests:
		return http.StatusTooManyRequests
	case c == ServiceUnavailable, c == CompilerUnavailable:
		return http.StatusServiceUnavailable
	case c >= 10300 && c < 10400: // Validation errors
		return http.StatusBadRequest
	case c >= 11000 && c < 11100: // Source errors
		return http.StatusBadRequest
	case c == CompilationFailed:
		return http.StatusUnprocessableEntity
	case c >= 13300 && c < 13400: // Run setup errors
		return http.StatusBadRequest
	case c == InvalidParams:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
