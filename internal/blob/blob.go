// Package blob abstracts byte-stream storage for table files. The ingestion
// pipeline and the filter engine only ever see this interface; whether the
// bytes live on local disk or in an S3-compatible bucket is decided once,
// when the concrete Store is constructed.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist is returned by Open and Delete when the named object does not
// exist in the backing store. Wraps are permitted; callers should test with
// errors.Is.
var ErrNotExist = errors.New("blob: object does not exist")

// Store is the narrow byte-stream interface required by the core.
//
// Paths are backend-local keys (a relative file path or an object key). The
// caller owns key naming; implementations must not interpret keys beyond
// separator handling.
type Store interface {
	// Open returns a reader over the object's bytes. The reader must be
	// closed by the caller. A canceled context stops further chunk reads.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Create returns a writer for a new object at path, replacing any
	// existing object. The object becomes visible once Close returns nil.
	Create(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the object at path.
	Delete(ctx context.Context, path string) error
}
