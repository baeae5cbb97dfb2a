package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// NoExpiry 表示条目永不过期，只能通过强制刷新或显式删除替换。
const NoExpiry time.Duration = 0

// Store 负责管理响应缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<sanitized key>.json    # {"key","payload","createdAt","ttl"}
//
// 读取路径上的 I/O 与解析错误一律降级为 ErrNotFound，调用方无需区分“未写入”与“已损坏”。
type Store interface {
	// Get 返回条目（无论是否过期）。不存在、损坏或不可读时返回 ErrNotFound，
	// 除此之外只可能返回 ctx 的错误。
	Get(ctx context.Context, key string) (*Entry, error)

	// Set 原子地写入条目并覆盖旧值。实现需通过临时文件 + rename 保证读者不会看到半写状态。
	Set(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error

	// Has 当且仅当 Get 能返回条目时为 true，与是否过期无关。
	Has(ctx context.Context, key string) bool

	// Delete 删除条目，键不存在时静默成功。
	Delete(ctx context.Context, key string) error

	// Clear 删除全部条目。单个条目删除失败不会中断其余条目，最终返回合并后的错误。
	Clear(ctx context.Context) error

	// Info 返回当前存储中的条目数与总字节数。
	Info(ctx context.Context) (Info, error)
}

// Entry 表示一个缓存条目，Payload 对存储层是不透明的 JSON。
type Entry struct {
	Key       string
	Payload   json.RawMessage
	CreatedAt time.Time
	TTL       time.Duration
}

// Expired 判断条目在 now 时刻是否已超过 TTL；NoExpiry（及任何非正值）永不过期。
func (e Entry) Expired(now time.Time) bool {
	expireAt, ok := e.ExpiresAt()
	if !ok {
		return false
	}
	return now.After(expireAt)
}

// ExpiresAt 返回过期时间点；永不过期时第二个返回值为 false。
func (e Entry) ExpiresAt() (time.Time, bool) {
	if e.TTL <= 0 {
		return time.Time{}, false
	}
	return e.CreatedAt.Add(e.TTL), true
}

// Info 汇总存储状态，供管理接口展示。
type Info struct {
	Count          int   `json:"count"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// ErrNotFound 表示缓存不存在（或已损坏被视为不存在）。
var ErrNotFound = errors.New("cache entry not found")

// errKeyRequired 在写入空键时返回。
var errKeyRequired = errors.New("cache key required")

// diskEntry 是条目落盘的 JSON 形态，ttl 以毫秒记录，0 表示永不过期。
type diskEntry struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
	TTL       int64           `json:"ttl"`
}

func encodeEntry(entry Entry) ([]byte, error) {
	ttl := int64(0)
	if entry.TTL > 0 {
		// 不足 1ms 的 TTL 向上取整，避免被记录成 0（永不过期）。
		ttl = max(entry.TTL.Milliseconds(), 1)
	}
	return json.Marshal(diskEntry{
		Key:       entry.Key,
		Payload:   entry.Payload,
		CreatedAt: entry.CreatedAt,
		TTL:       ttl,
	})
}

func decodeEntry(raw []byte) (Entry, error) {
	var disk diskEntry
	if err := json.Unmarshal(raw, &disk); err != nil {
		return Entry{}, err
	}
	if disk.Key == "" {
		return Entry{}, errors.New("entry key missing")
	}
	if len(disk.Payload) == 0 || string(disk.Payload) == "null" {
		return Entry{}, errors.New("entry payload missing")
	}
	if disk.CreatedAt.IsZero() {
		return Entry{}, errors.New("entry timestamp missing")
	}
	ttl := NoExpiry
	if disk.TTL > 0 {
		ttl = time.Duration(disk.TTL) * time.Millisecond
	}
	return Entry{
		Key:       disk.Key,
		Payload:   disk.Payload,
		CreatedAt: disk.CreatedAt,
		TTL:       ttl,
	}, nil
}
