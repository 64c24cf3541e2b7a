package storage

import (
	"context"

	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/retry"
)

// Retrying wraps every call of a Store in a retry policy.
type Retrying struct {
	store  Store
	policy retry.Policy
}

// WithRetry decorates store. A policy without a predicate retries only
// errors IsRetryable accepts.
func WithRetry(store Store, policy retry.Policy) *Retrying {
	if policy.Retryable == nil {
		policy.Retryable = IsRetryable
	}
	return &Retrying{store: store, policy: policy}
}

func (r *Retrying) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := r.policy.Do(ctx, "list", func(ctx context.Context) error {
		var err error
		objects, err = r.store.List(ctx, prefix)
		return err
	})
	return objects, err
}

func (r *Retrying) Download(ctx context.Context, key, path string) error {
	return r.policy.Do(ctx, "get", func(ctx context.Context) error {
		return r.store.Download(ctx, key, path)
	})
}

func (r *Retrying) Upload(ctx context.Context, path, key string) error {
	return r.policy.Do(ctx, "put", func(ctx context.Context) error {
		return r.store.Upload(ctx, path, key)
	})
}

func (r *Retrying) Delete(ctx context.Context, keys []string) error {
	return r.policy.Do(ctx, "delete", func(ctx context.Context) error {
		return r.store.Delete(ctx, keys)
	})
}
