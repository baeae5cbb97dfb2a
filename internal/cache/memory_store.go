package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore 是 Store 的内存实现，语义与磁盘实现一致（过期条目同样保留），
// 用于测试以及 StorageDriver = "memory" 的部署。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// SetClock 替换时间源，便于测试中控制 CreatedAt。
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	entry.Payload = append(json.RawMessage(nil), entry.Payload...)
	return &entry, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return errKeyRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl < 0 {
		ttl = NoExpiry
	}
	m.entries[key] = Entry{
		Key:       key,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: m.now().UTC(),
		TTL:       ttl,
	}
	return nil
}

func (m *MemoryStore) Has(ctx context.Context, key string) bool {
	_, err := m.Get(ctx, key)
	return err == nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry)
	return nil
}

// Info 以落盘编码后的大小计算 TotalSizeBytes，便于与磁盘实现对照。
func (m *MemoryStore) Info(ctx context.Context) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := Info{Count: len(m.entries)}
	for _, entry := range m.entries {
		encoded, err := encodeEntry(entry)
		if err != nil {
			continue
		}
		info.TotalSizeBytes += int64(len(encoded))
	}
	return info, nil
}

var _ Store = (*MemoryStore)(nil)
