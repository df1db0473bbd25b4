package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScrapeErrorMessage(t *testing.T) {
	err := NewNetwork("Supreme", "navigation failed", fmt.Errorf("connection reset"))
	assert.Equal(t, "[network] Supreme: navigation failed - connection reset", err.Error())

	err = NewValidation("Nike", "empty term")
	assert.Equal(t, "[validation] Nike: empty term", err.Error())
}

func TestFromContext(t *testing.T) {
	wrapped := fmt.Errorf("navigate: %w", context.DeadlineExceeded)
	err := FromContext("Adidas", 30*time.Second, wrapped)
	assert.Equal(t, ErrorTypeTimeout, err.Type)
	assert.True(t, err.IsRetryable())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = FromContext("Adidas", 30*time.Second, fmt.Errorf("net::ERR_NAME_NOT_RESOLVED"))
	assert.Equal(t, ErrorTypeNetwork, err.Type)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("term: %w", NewNetwork("x", "y", nil))))
	assert.False(t, IsRetryable(NewRateLimit("x", time.Minute)))
	assert.False(t, IsRetryable(NewInternal("x", "panic")))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
	assert.True(t, IsType(NewPersistence("/tmp/x", "rename", nil), ErrorTypePersistence))
}
