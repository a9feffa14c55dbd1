// Package uuid generates request identifiers for relayed scans.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements monitor.IDGenerator with time-ordered UUIDs.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string so request ids sort by creation time.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate request id: %w", err)
	}
	return id.String(), nil
}
