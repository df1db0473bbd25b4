package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeNetwork represents navigation and transport failures
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout represents a page load that exceeded its deadline
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeParsing represents HTML parsing errors
	ErrorTypeParsing ErrorType = "parsing"
	// ErrorTypeRateLimit represents rate limiting errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeCache represents cache-related errors
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypePublisher represents publisher-related errors
	ErrorTypePublisher ErrorType = "publisher"
	// ErrorTypePersistence represents catalog file read/write errors
	ErrorTypePersistence ErrorType = "persistence"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeInternal represents a recovered panic
	ErrorTypeInternal ErrorType = "internal"
)

// ScrapeError represents an error raised while scraping, storing or serving listings
type ScrapeError struct {
	Type     ErrorType
	Provider string
	Message  string
	Err      error
	Time     time.Time
}

// Error implements the error interface
func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Provider, e.Message)
}

// Unwrap returns the underlying error
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is retryable
func (e *ScrapeError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// New creates a new ScrapeError
func New(errType ErrorType, provider, message string, err error) *ScrapeError {
	return &ScrapeError{
		Type:     errType,
		Provider: provider,
		Message:  message,
		Err:      err,
		Time:     time.Now(),
	}
}

// NewNetwork creates a new network error
func NewNetwork(provider, message string, err error) *ScrapeError {
	return New(ErrorTypeNetwork, provider, message, err)
}

// NewTimeout creates a new timeout error
func NewTimeout(provider string, after time.Duration, err error) *ScrapeError {
	return New(ErrorTypeTimeout, provider, fmt.Sprintf("page load exceeded %v", after), err)
}

// NewParsing creates a new parsing error
func NewParsing(provider, message string, err error) *ScrapeError {
	return New(ErrorTypeParsing, provider, message, err)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(provider string, duration time.Duration) *ScrapeError {
	message := fmt.Sprintf("rate limited for %v", duration)
	return New(ErrorTypeRateLimit, provider, message, nil)
}

// NewCache creates a new cache error
func NewCache(provider, message string, err error) *ScrapeError {
	return New(ErrorTypeCache, provider, message, err)
}

// NewPublisher creates a new publisher error
func NewPublisher(provider, message string, err error) *ScrapeError {
	return New(ErrorTypePublisher, provider, message, err)
}

// NewPersistence creates a new persistence error
func NewPersistence(path, message string, err error) *ScrapeError {
	return New(ErrorTypePersistence, path, message, err)
}

// NewValidation creates a new validation error
func NewValidation(provider, message string) *ScrapeError {
	return New(ErrorTypeValidation, provider, message, nil)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *ScrapeError {
	return New(ErrorTypeConfiguration, "", message, err)
}

// NewInternal creates an error for a recovered panic
func NewInternal(provider, message string) *ScrapeError {
	return New(ErrorTypeInternal, provider, message, nil)
}

// FromContext classifies a provider failure, turning deadline overruns into
// timeout errors and everything else into network errors.
func FromContext(provider string, timeout time.Duration, err error) *ScrapeError {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewTimeout(provider, timeout, err)
	}
	return NewNetwork(provider, "page render failed", err)
}

// IsType reports whether err is a ScrapeError of the given type
func IsType(err error, errType ErrorType) bool {
	var se *ScrapeError
	if stderrors.As(err, &se) {
		return se.Type == errType
	}
	return false
}

// IsRetryable reports whether err is a retryable ScrapeError
func IsRetryable(err error) bool {
	var se *ScrapeError
	if stderrors.As(err, &se) {
		return se.IsRetryable()
	}
	return false
}
