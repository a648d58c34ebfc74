package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when no record has the requested id.
	ErrNotFound = errors.New("session not found")

	// ErrDuplicateID is returned when an insert collides with an existing id.
	ErrDuplicateID = errors.New("session id already exists")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

func configError(key string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrConfig, key)
	}
	return fmt.Errorf("%w: %s: %v", ErrConfig, key, err)
}
