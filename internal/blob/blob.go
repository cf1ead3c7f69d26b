// Package blob stores uploaded quotation PDFs. The MinIO backend is used in
// deployments; the local backend serves development and tests.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the named object does not exist.
var ErrNotFound = errors.New("object not found")

// Store is the narrow blob interface the application needs.
type Store interface {
	// Save writes the object under name, overwriting any existing object.
	Save(ctx context.Context, name string, data []byte, contentType string) error
	// Read returns the object's content and content type.
	Read(ctx context.Context, name string) ([]byte, string, error)
	// Remove deletes the object. Removing an unknown object is not an error.
	Remove(ctx context.Context, name string) error
}
