// Package storagetest provides an in-memory storage.Store for tests.
package storagetest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/storage"
)

// MemStore keeps objects in memory. Keys list in lexical order, like S3.
type MemStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	// Injected failures, keyed by object key.
	DownloadErr map[string]error
	UploadErr   map[string]error
	ListErr     error

	Deleted []string
}

func NewMemStore() *MemStore {
	return &MemStore{
		objects:     make(map[string][]byte),
		DownloadErr: make(map[string]error),
		UploadErr:   make(map[string]error),
	}
}

// Put stores data under key.
func (m *MemStore) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
}

// Get returns the stored bytes of key.
func (m *MemStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

// Keys returns all keys under prefix in lexical order.
func (m *MemStore) Keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m *MemStore) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if m.ListErr != nil {
		return nil, &storage.StoreAccessError{Bucket: "mem", Prefix: prefix, Err: m.ListErr}
	}
	var out []storage.ObjectInfo
	for _, k := range m.Keys(prefix) {
		data, _ := m.Get(k)
		out = append(out, storage.ObjectInfo{Key: k, Size: int64(len(data))})
	}
	return out, nil
}

func (m *MemStore) Download(ctx context.Context, key, path string) error {
	m.mu.Lock()
	data, ok := m.objects[key]
	injected := m.DownloadErr[key]
	m.mu.Unlock()

	if injected != nil {
		return &storage.ObjectReadError{Key: key, Err: injected}
	}
	if !ok {
		return &storage.ObjectReadError{Key: key, Err: fmt.Errorf("no such key")}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return &storage.ObjectReadError{Key: key, Err: err}
	}
	return nil
}

func (m *MemStore) Upload(ctx context.Context, path, key string) error {
	m.mu.Lock()
	injected := m.UploadErr[key]
	m.mu.Unlock()
	if injected != nil {
		return &storage.ObjectWriteError{Key: key, Err: injected}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return &storage.ObjectWriteError{Key: key, Err: err}
	}
	m.Put(key, data)
	return nil
}

func (m *MemStore) Delete(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.objects, k)
		m.Deleted = append(m.Deleted, k)
	}
	return nil
}
