package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
)

// Memory is an in-process ObjectStorage for local development and tests.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	// FailUpload lets tests inject upload failures per key.
	FailUpload func(key string) error
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if m.FailUpload != nil {
		if err := m.FailUpload(key); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = cp
	return nil
}

func (m *Memory) Download(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "object not found")
	}
	return data, nil
}

func (m *Memory) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return "", apperror.New(apperror.KindNotFound, "object not found")
	}
	return fmt.Sprintf("memory://%s?expires=%d", key, int64(ttl.Seconds())), nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}

func (m *Memory) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}
