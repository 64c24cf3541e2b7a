package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/minio/minio-go/v7"
)

// StoreAccessError is returned when the bucket cannot be listed or reached.
// It aborts a run before any table is processed.
type StoreAccessError struct {
	Bucket string
	Prefix string
	Err    error
}

func (e *StoreAccessError) Error() string {
	return fmt.Sprintf("store access %s/%s: %v", e.Bucket, e.Prefix, e.Err)
}

func (e *StoreAccessError) Unwrap() error { return e.Err }

// ObjectReadError is a failed download of a single object.
type ObjectReadError struct {
	Key string
	Err error
}

func (e *ObjectReadError) Error() string {
	return fmt.Sprintf("read object %q: %v", e.Key, e.Err)
}

func (e *ObjectReadError) Unwrap() error { return e.Err }

// ObjectWriteError is a failed upload or delete of a single object.
type ObjectWriteError struct {
	Key string
	Err error
}

func (e *ObjectWriteError) Error() string {
	return fmt.Sprintf("write object %q: %v", e.Key, e.Err)
}

func (e *ObjectWriteError) Unwrap() error { return e.Err }

// IsRetryable reports whether err looks like a transient store failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return true
		}
		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	// connection resets, DNS failures and truncated bodies carry no S3 error code
	return true
}
