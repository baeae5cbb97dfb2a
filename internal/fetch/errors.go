package fetch

import (
	"errors"
	"fmt"
)

// ErrInvalidPayload 表示上游返回了格式正确但结构不符合预期的数据，此类数据绝不写入缓存。
var ErrInvalidPayload = errors.New("invalid upstream payload")

// UpstreamError 描述一次没有任何缓存可兜底的上游失败。
type UpstreamError struct {
	Key string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
