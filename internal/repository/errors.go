package repository

import (
	"errors"
	"fmt"
)

// ErrNoBackend is returned by a wind repository created without a backend
var ErrNoBackend = errors.New("wind repository has no backend configured")

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// IsTransient returns false as a missing resource will not appear on retry
func (e *NotFoundError) IsTransient() bool {
	return false
}
