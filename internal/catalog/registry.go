package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry 保存当前生效的目录定义，配置热加载时整体替换。
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry 使用给定定义构建注册表，重复键返回错误。
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition)}
	if err := r.Replace(defs); err != nil {
		return nil, err
	}
	return r, nil
}

func normalizeKey(key string) string {
	return strings.TrimSpace(key)
}

// Replace 原子地替换全部目录；校验失败时保留旧内容。
func (r *Registry) Replace(defs []Definition) error {
	next := make(map[string]Definition, len(defs))
	for _, def := range defs {
		key := normalizeKey(def.Key)
		if key == "" {
			return fmt.Errorf("catalog key is required")
		}
		if def.Path == "" {
			return fmt.Errorf("catalog %s: path is required", key)
		}
		if _, exists := next[key]; exists {
			return fmt.Errorf("catalog %s already registered", key)
		}
		def.Key = key
		next[key] = def
	}

	r.mu.Lock()
	r.defs = next
	r.mu.Unlock()
	return nil
}

// Resolve 返回指定键的目录定义。
func (r *Registry) Resolve(key string) (Definition, bool) {
	key = normalizeKey(key)
	if key == "" {
		return Definition{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[key]
	return def, ok
}

// List 返回按键排序的目录定义。
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.defs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.defs))
	for key := range r.defs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Definition, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.defs[key])
	}
	return result
}

// Keys 返回所有目录键，供日志与诊断使用。
func (r *Registry) Keys() []string {
	items := r.List()
	result := make([]string, len(items))
	for i, def := range items {
		result[i] = def.Key
	}
	return result
}
