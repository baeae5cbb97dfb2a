package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

const (
	entrySuffix    = ".json"
	tempPrefix     = ".cache-"
	lockFileName   = ".cinehub.lock"
	corruptMessage = "cache_entry_corrupt"

	// maxNameLen 为清洗后文件名主体的上限，加上摘要与后缀仍低于常见文件系统的 255 字节限制。
	maxNameLen = 200
	digestLen  = 16
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
// logger 为空时丢弃存储层日志。
func NewStore(basePath string, logger *logrus.Logger) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	return &fileStore{
		basePath: abs,
		lockPath: filepath.Join(abs, lockFileName),
		logger:   logger,
		now:      time.Now,
		remove:   os.Remove,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 key 并发写入；跨进程场景下写入方持有共享文件锁，
// Clear 持有独占文件锁，保证清空时不会与其它进程的 rename 交错。
type fileStore struct {
	basePath string
	lockPath string
	logger   *logrus.Logger
	now      func() time.Time
	remove   func(string) error

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, ErrNotFound
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logEntry(key).WithError(err).Warn("cache_read_failed")
		}
		return nil, ErrNotFound
	}

	entry, err := decodeEntry(raw)
	if err != nil {
		s.logEntry(key).WithError(err).Warn(corruptMessage)
		s.evictCorrupt(key, filePath, raw)
		return nil, ErrNotFound
	}
	if entry.Key != key {
		// 两个逻辑键清洗后落到同一文件名，不能把别人的数据当作自己的。
		s.logEntry(key).WithField("stored_key", entry.Key).Debug("cache_key_collision")
		return nil, ErrNotFound
	}

	return &entry, nil
}

func (s *fileStore) Set(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}

	data, err := encodeEntry(Entry{
		Key:       key,
		Payload:   payload,
		CreatedAt: s.now().UTC(),
		TTL:       ttl,
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	unlock := s.lockEntry(key)
	defer unlock()

	err = s.withFileLock(false, func() error {
		return writeAtomic(filePath, data)
	})
	if err != nil {
		s.logEntry(key).WithError(err).Warn("cache_write_failed")
		return err
	}
	return nil
}

func (s *fileStore) Has(ctx context.Context, key string) bool {
	_, err := s.Get(ctx, key)
	return err == nil
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil
	}

	unlock := s.lockEntry(key)
	defer unlock()

	return s.withFileLock(false, func() error {
		if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
}

func (s *fileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	removed := 0
	err := s.withFileLock(true, func() error {
		items, err := os.ReadDir(s.basePath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		var errs []error
		for _, item := range items {
			name := item.Name()
			if item.IsDir() || !isManagedFile(name) {
				continue
			}
			if err := s.remove(filepath.Join(s.basePath, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
				continue
			}
			if strings.HasSuffix(name, entrySuffix) {
				removed++
			}
		}
		return errors.Join(errs...)
	})

	fields := logrus.Fields{"action": "cache_clear", "removed": removed}
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("cache_clear_partial")
		return err
	}
	s.logger.WithFields(fields).Info("cache_cleared")
	return nil
}

func (s *fileStore) Info(ctx context.Context) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}

	items, err := os.ReadDir(s.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, nil
		}
		return Info{}, err
	}

	var info Info
	for _, item := range items {
		if item.IsDir() || !strings.HasSuffix(item.Name(), entrySuffix) || strings.HasPrefix(item.Name(), tempPrefix) {
			continue
		}
		stat, err := item.Info()
		if err != nil {
			// 条目可能刚被其它进程删除。
			continue
		}
		info.Count++
		info.TotalSizeBytes += stat.Size()
	}
	return info, nil
}

// evictCorrupt 仅在文件内容仍是读到的那份损坏数据时删除，避免误删并发写入的新条目。
func (s *fileStore) evictCorrupt(key, filePath string, corrupt []byte) {
	unlock := s.lockEntry(key)
	defer unlock()

	err := s.withFileLock(false, func() error {
		current, err := os.ReadFile(filePath)
		if err != nil {
			return nil
		}
		if !bytes.Equal(current, corrupt) {
			return nil
		}
		return os.Remove(filePath)
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logEntry(key).WithError(err).Warn("cache_evict_failed")
	}
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// withFileLock 每次操作打开独立的文件锁句柄：flock(2) 以打开的文件描述为单位，
// 同进程内的共享锁与 Clear 的独占锁也能正确互斥。
func (s *fileStore) withFileLock(exclusive bool, fn func() error) error {
	lock := flock.New(s.lockPath)
	var err error
	if exclusive {
		err = lock.Lock()
	} else {
		err = lock.RLock()
	}
	if err != nil {
		return fmt.Errorf("acquire store lock: %w", err)
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			s.logger.WithError(unlockErr).Warn("cache_unlock_failed")
		}
	}()
	return fn()
}

func (s *fileStore) entryPath(key string) (string, error) {
	if key == "" {
		return "", errKeyRequired
	}
	return filepath.Join(s.basePath, entryName(key)+entrySuffix), nil
}

// entryName 在清洗结果过长时截断并附加原始 key 的摘要，冲突由 Get 的 key 比对兜底。
func entryName(key string) string {
	name := SanitizeKey(key)
	if len(name) <= maxNameLen {
		return name
	}
	sum := sha256.Sum256([]byte(key))
	return name[:maxNameLen-digestLen-1] + "-" + hex.EncodeToString(sum[:])[:digestLen]
}

func (s *fileStore) logEntry(key string) *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"action":    "cache",
		"cache_key": key,
	})
}

// SanitizeKey 将 [A-Za-z0-9_-] 以外的字符替换为下划线，结果可直接作为文件名。
func SanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func isManagedFile(name string) bool {
	if name == lockFileName {
		return false
	}
	return strings.HasSuffix(name, entrySuffix) || strings.HasPrefix(name, tempPrefix)
}

func writeAtomic(filePath string, data []byte) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}
