package fetch

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Validator 在写缓存之前检查上游响应的结构，返回错误即拒绝该响应。
type Validator func(json.RawMessage) error

// ValidateJSON 是默认校验：非空、合法 JSON，顶层必须是对象或数组。
func ValidateJSON(payload json.RawMessage) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	if !json.Valid(trimmed) {
		return fmt.Errorf("%w: malformed json", ErrInvalidPayload)
	}
	switch trimmed[0] {
	case '{', '[':
		return nil
	default:
		return fmt.Errorf("%w: expected object or array", ErrInvalidPayload)
	}
}

// ValidateList 要求响应是带 results 数组的对象，对应分页列表接口。
func ValidateList(payload json.RawMessage) error {
	if err := ValidateJSON(payload); err != nil {
		return err
	}
	var body struct {
		Results *[]json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if body.Results == nil {
		return fmt.Errorf("%w: missing results array", ErrInvalidPayload)
	}
	return nil
}

// ValidateObject 要求响应是带正数 id 的对象，对应详情类接口。
func ValidateObject(payload json.RawMessage) error {
	if err := ValidateJSON(payload); err != nil {
		return err
	}
	var body struct {
		ID *float64 `json:"id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if body.ID == nil || *body.ID <= 0 {
		return fmt.Errorf("%w: missing numeric id", ErrInvalidPayload)
	}
	return nil
}

// ValidatorByName 将配置中的校验名称映射到实现，未知名称返回 false。
func ValidatorByName(name string) (Validator, bool) {
	switch name {
	case "", "json":
		return ValidateJSON, true
	case "list":
		return ValidateList, true
	case "object":
		return ValidateObject, true
	default:
		return nil, false
	}
}
