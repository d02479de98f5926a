// Package errors provides structured error handling for scancache operations.
// It defines error codes, error types, and provides utilities for creating
// and handling errors with context and structured information.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"
	CodeUnauthorized  ErrorCode = "UNAUTHORIZED"

	// Cache errors.
	CodeOutOfMemory        ErrorCode = "OUT_OF_MEMORY"
	CodeMalformedIE        ErrorCode = "MALFORMED_IE"
	CodeInterfaceUnknown   ErrorCode = "INTERFACE_UNKNOWN"
	CodeInterfaceExists    ErrorCode = "INTERFACE_EXISTS"
	CodeInvalidObservation ErrorCode = "INVALID_OBSERVATION"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
	CodeDatabaseTimeout    ErrorCode = "DATABASE_TIMEOUT"

	// Service errors.
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"
)

// CacheError represents an error raised by a scan cache context.
type CacheError struct {
	Code      ErrorCode
	Message   string
	Interface string
	BSSID     string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	switch {
	case e.Interface != "" && e.BSSID != "":
		return fmt.Sprintf("[%s] %s (interface: %s, bssid: %s)", e.Code, e.Message, e.Interface, e.BSSID)
	case e.Interface != "":
		return fmt.Sprintf("[%s] %s (interface: %s)", e.Code, e.Message, e.Interface)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *CacheError) WithContext(key string, value interface{}) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithBSSID records the access point the error relates to.
func (e *CacheError) WithBSSID(bssid string) *CacheError {
	e.BSSID = bssid
	return e
}

// NewCacheError creates a new cache error with the specified code and message.
func NewCacheError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewCacheErrorWithInterface creates a cache error scoped to one interface.
func NewCacheErrorWithInterface(code ErrorCode, message, iface string) *CacheError {
	return &CacheError{
		Code:      code,
		Message:   message,
		Interface: iface,
		Context:   make(map[string]interface{}),
	}
}

// WrapCacheError wraps an existing error as a cache error.
func WrapCacheError(code ErrorCode, message string, err error) *CacheError {
	return &CacheError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// IEError reports a truncated or otherwise unparsable information element.
type IEError struct {
	Code      ErrorCode
	Message   string
	ElementID uint8
	Offset    int
}

// Error implements the error interface.
func (e *IEError) Error() string {
	return fmt.Sprintf("[%s] %s (element: %d, offset: %d)", e.Code, e.Message, e.ElementID, e.Offset)
}

// NewIEError creates a malformed element error.
func NewIEError(elementID uint8, offset int, message string) *IEError {
	return &IEError{
		Code:      CodeMalformedIE,
		Message:   message,
		ElementID: elementID,
		Offset:    offset,
	}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Query     string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// WithQuery adds the SQL query that caused the error.
func (e *DatabaseError) WithQuery(query string) *DatabaseError {
	e.Query = query
	return e
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// IsCode checks if an error, or any error it wraps, has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	var cacheErr *CacheError
	if errors.As(err, &cacheErr) {
		return cacheErr.Code
	}
	var ieErr *IEError
	if errors.As(err, &ieErr) {
		return ieErr.Code
	}
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr.Code
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	return CodeUnknown
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeDatabaseTimeout, CodeServiceUnavailable, CodeRateLimited:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeConfiguration, CodeDatabaseMigration:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInterfaceUnknown creates an error for a lookup of an unregistered interface.
func ErrInterfaceUnknown(iface string) *CacheError {
	return NewCacheErrorWithInterface(CodeInterfaceUnknown, "No scan cache for interface", iface)
}

// ErrInterfaceExists creates an error for a duplicate interface registration.
func ErrInterfaceExists(iface string) *CacheError {
	return NewCacheErrorWithInterface(CodeInterfaceExists, "Scan cache already exists for interface", iface)
}

// ErrOutOfMemory creates an error for a refused entry allocation.
func ErrOutOfMemory(iface string) *CacheError {
	return NewCacheErrorWithInterface(CodeOutOfMemory, "Failed to allocate scan entry", iface)
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}

// ErrDatabaseQuery creates an error for database query failures.
func ErrDatabaseQuery(query string, err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseQuery, "Database query failed", err).WithQuery(query)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
